// Package version reports the running release and checks GitHub for
// newer ones.
package version

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Current is the release baked into this build.
const Current = "0.3.1"

// release mirrors the fields we need from GitHub's releases API.
type release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	HTMLURL     string    `json:"html_url"`
	Body        string    `json:"body"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
}

// ReleaseInfo is the comparison result returned to clients.
type ReleaseInfo struct {
	CurrentVersion  string    `json:"current_version"`
	LatestVersion   string    `json:"latest_version"`
	UpdateAvailable bool      `json:"update_available"`
	ReleaseURL      string    `json:"release_url,omitempty"`
	ReleaseNotes    string    `json:"release_notes,omitempty"`
	PublishedAt     time.Time `json:"published_at,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
}

// Checker fetches release info with a TTL cache so repeated UI polls
// don't hammer the GitHub API.
type Checker struct {
	current string
	apiURL  string
	client  *http.Client

	mu       sync.Mutex
	cached   *ReleaseInfo
	cachedAt time.Time
	ttl      time.Duration
}

// NewChecker builds a checker for the given GitHub owner/repo.
func NewChecker(current, owner, repo string) *Checker {
	return &Checker{
		current: normalize(current),
		apiURL:  fmt.Sprintf("https://api.github.com/repos/%s/%s/releases/latest", owner, repo),
		client:  &http.Client{Timeout: 10 * time.Second},
		ttl:     time.Hour,
	}
}

// CurrentVersion returns the normalized running version.
func (c *Checker) CurrentVersion() string { return c.current }

// Check returns cached release info when fresh, otherwise fetches. A
// failed fetch falls back to stale cache when one exists.
func (c *Checker) Check() (*ReleaseInfo, error) {
	c.mu.Lock()
	if c.cached != nil && time.Since(c.cachedAt) < c.ttl {
		info := *c.cached
		c.mu.Unlock()
		return &info, nil
	}
	c.mu.Unlock()

	info, err := c.fetch()
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.cached != nil {
			stale := *c.cached
			stale.CheckedAt = time.Now()
			return &stale, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.cached = info
	c.cachedAt = time.Now()
	c.mu.Unlock()
	return info, nil
}

// ForceCheck bypasses the cache.
func (c *Checker) ForceCheck() (*ReleaseInfo, error) {
	info, err := c.fetch()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cached = info
	c.cachedAt = time.Now()
	c.mu.Unlock()
	return info, nil
}

func (c *Checker) fetch() (*ReleaseInfo, error) {
	req, err := http.NewRequest("GET", c.apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build release request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "tether/"+c.current)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch release info: %w", err)
	}
	defer resp.Body.Close()

	// No published releases is not an error.
	if resp.StatusCode == http.StatusNotFound {
		return c.upToDate(), nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github API returned status %d", resp.StatusCode)
	}

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("decode release info: %w", err)
	}
	if rel.Draft || rel.Prerelease {
		return c.upToDate(), nil
	}

	latest := normalize(rel.TagName)
	notes := rel.Body
	if len(notes) > 500 {
		notes = notes[:497] + "..."
	}

	return &ReleaseInfo{
		CurrentVersion:  c.current,
		LatestVersion:   latest,
		UpdateAvailable: Compare(c.current, latest) < 0,
		ReleaseURL:      rel.HTMLURL,
		ReleaseNotes:    notes,
		PublishedAt:     rel.PublishedAt,
		CheckedAt:       time.Now(),
	}, nil
}

func (c *Checker) upToDate() *ReleaseInfo {
	return &ReleaseInfo{
		CurrentVersion: c.current,
		LatestVersion:  c.current,
		CheckedAt:      time.Now(),
	}
}

// Compare orders two semantic versions: -1 when a < b, 0 when equal,
// 1 when a > b. A stable version outranks any prerelease of the same
// number.
func Compare(a, b string) int {
	pa, pb := parse(normalize(a)), parse(normalize(b))

	for i := 0; i < 3; i++ {
		if pa[i] != pb[i] {
			if pa[i] < pb[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case pa[3] == 0 && pb[3] != 0:
		return 1
	case pa[3] != 0 && pb[3] == 0:
		return -1
	case pa[3] < pb[3]:
		return -1
	case pa[3] > pb[3]:
		return 1
	}
	return 0
}

func normalize(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "v")
	return strings.TrimPrefix(v, "V")
}

// parse splits "major.minor.patch[-pre.N]" into numeric parts; the
// fourth slot is the prerelease number (0 means stable).
func parse(v string) [4]int {
	var out [4]int

	if idx := strings.Index(v, "-"); idx != -1 {
		pre := v[idx+1:]
		v = v[:idx]
		digits := strings.TrimLeftFunc(pre, func(r rune) bool {
			return r < '0' || r > '9'
		})
		digits = strings.TrimPrefix(digits, ".")
		if n, err := strconv.Atoi(strings.Trim(digits, ".")); err == nil {
			out[3] = n
		} else {
			out[3] = 1 // unnumbered prerelease still sorts below stable
		}
	}

	for i, part := range strings.SplitN(v, ".", 3) {
		if i > 2 {
			break
		}
		n, _ := strconv.Atoi(part)
		out[i] = n
	}
	return out
}
