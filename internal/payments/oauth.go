package payments

import (
	"log"
	"net/http"
	"net/url"

	"github.com/shoplight/pos-backend/internal/models"
)

// CallbackHandler completes the vendor OAuth flow. Success and vendor-side
// denials redirect back to the site's integrations page; malformed requests
// get a JSON error since no browser session is in play.
func (s *Service) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		if oauthErr := q.Get("error"); oauthErr != "" {
			log.Printf("payments: oauth denied: %s (%s)", oauthErr, q.Get("error_description"))
			s.redirectIntegrations(w, r, url.Values{
				"error":   {oauthErr},
				"message": {q.Get("error_description")},
			})
			return
		}

		code := q.Get("code")
		state := q.Get("state")
		if code == "" || state == "" {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "missing code or state parameter"})
			return
		}

		if s.cfg.ApplicationID == "" || s.cfg.ApplicationSecret == "" {
			log.Printf("payments: square application credentials not configured")
			respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "square integration not configured"})
			return
		}

		userID, err := s.state.Verify(state)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid state parameter"})
			return
		}

		token, err := s.vendor.ExchangeCode(r.Context(), s.cfg.ApplicationID, s.cfg.ApplicationSecret, code, s.callbackURL())
		if err != nil {
			log.Printf("payments: exchange oauth code for user %s: %v", userID, err)
			s.redirectIntegrations(w, r, url.Values{
				"error":   {"token_exchange_failed"},
				"message": {"Failed to connect Square account"},
			})
			return
		}

		cred := &models.Credential{
			UserID:       userID,
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			ExpiresAt:    token.ExpiresAtTime(),
			MerchantID:   token.MerchantID,
			ConnectedAt:  s.now(),
		}
		if _, err := s.store.UpsertCredential(r.Context(), cred); err != nil {
			log.Printf("payments: store credential for user %s: %v", userID, err)
			s.redirectIntegrations(w, r, url.Values{
				"error":   {"storage_failed"},
				"message": {"Failed to save Square connection"},
			})
			return
		}

		s.redirectIntegrations(w, r, url.Values{"connected": {"true"}})
	}
}

func (s *Service) redirectIntegrations(w http.ResponseWriter, r *http.Request, params url.Values) {
	http.Redirect(w, r, s.siteURL+"/integrations?"+params.Encode(), http.StatusFound)
}
