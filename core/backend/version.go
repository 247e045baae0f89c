package backend

import (
	"net/http"
	"runtime"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/restifier/core/access"
	"github.com/relabs-tech/restifier/core/logger"
)

// Version is the version of the current build, set with -ldflags "-X ...backend.Version=..."
var Version = "unset"

// AdminRole may read the version if authorization is enabled. It is also the
// conventional bypass role of owned collections.
const AdminRole = "admin"

type versionInfo struct {
	Version     string   `json:"version"`
	GoVersion   string   `json:"goVersion"`
	Collections []string `json:"collections"`
}

func (b *Backend) handleVersion(router *mux.Router) {
	logger.Default().Debugln("  handle version route: /version GET")
	router.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		if b.authorizationEnabled && !access.AuthorizationFromContext(r.Context()).HasRole(AdminRole) {
			writeError(w, r, newAPIError(http.StatusUnauthorized, "not authorized"), "4701")
			return
		}
		info := versionInfo{
			Version:     Version,
			GoVersion:   runtime.Version(),
			Collections: []string{},
		}
		for _, c := range b.config.Collections {
			info.Collections = append(info.Collections, c.resource())
		}
		writeJSON(w, http.StatusOK, info)
	}).Methods(http.MethodGet)
}
