package handlers

import (
	"net/http"

	"tether/internal/version"
)

// VersionHandlers serves version and update-check requests.
type VersionHandlers struct {
	Checker *version.Checker
}

// NewVersionHandlers creates a handler checking the given GitHub repo.
func NewVersionHandlers(owner, repo string) *VersionHandlers {
	return &VersionHandlers{Checker: version.NewChecker(version.Current, owner, repo)}
}

// GetVersion returns the running version.
// GET /api/version
func (h *VersionHandlers) GetVersion(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, map[string]string{"version": h.Checker.CurrentVersion()})
}

// CheckVersion returns update availability, fetching fresh data when
// ?force=true.
// GET /api/version/check
func (h *VersionHandlers) CheckVersion(w http.ResponseWriter, r *http.Request) {
	var info *version.ReleaseInfo
	var err error

	if r.URL.Query().Get("force") == "true" {
		info, err = h.Checker.ForceCheck()
	} else {
		info, err = h.Checker.Check()
	}

	if err != nil {
		// Graceful response even when GitHub is unreachable
		JSONResponse(w, map[string]interface{}{
			"current_version":  h.Checker.CurrentVersion(),
			"update_available": false,
			"error":            err.Error(),
		})
		return
	}
	JSONResponse(w, info)
}
