package google

import (
	"log"
	"net/http"

	"github.com/pysugar/metric-garden/internal/auth/session"
	"golang.org/x/oauth2"
)

// HandleConnect starts the Google Analytics connect flow by redirecting the
// signed-in user to Google's consent page.
func HandleConnect(base *oauth2.Config, sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := session.UserID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		state, err := sessions.IssueState(userID)
		if err != nil {
			log.Printf("❌ Failed to issue oauth state for %s: %v", userID, err)
			writeError(w, http.StatusInternalServerError, "Failed to initiate Google Analytics connection")
			return
		}

		// Offline access plus forced consent so Google always returns a refresh token.
		url := forRequest(base, r).AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
		http.Redirect(w, r, url, http.StatusTemporaryRedirect)
	}
}
