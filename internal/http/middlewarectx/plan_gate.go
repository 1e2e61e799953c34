package middlewarectx

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/billing-sync/internal/gate"
	"github.com/magabrotheeeer/billing-sync/internal/http/response"
	"github.com/magabrotheeeer/billing-sync/internal/lib/sl"
	"github.com/magabrotheeeer/billing-sync/internal/metrics"
	"github.com/magabrotheeeer/billing-sync/internal/models"
)

// TokenIssuer подписывает токен для новой сессии.
type TokenIssuer interface {
	Token(sess *models.Session) (string, error)
}

// PlanGateConfig параметры проверки тарифа.
type PlanGateConfig struct {
	RefreshParam string // параметр запроса, запускающий принудительное обновление
	UpsellURL    string // куда отправлять пользователя без тарифа
	CookieName   string
	Options      gate.Options
}

// PlanGate пропускает запрос только сессиям с тарифом. Для каждого запроса
// создаётся свой gate.Gate. Требует SessionAuth выше по цепочке.
func PlanGate(cfg PlanGateConfig, source gate.SessionSource, issuer TokenIssuer, m *metrics.Metrics, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.PlanGate"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			sess, ok := SessionFromContext(r.Context())
			if !ok {
				log.Error("plan gate mounted without session auth")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("missing session"))
				return
			}

			forced := r.URL.Query().Has(cfg.RefreshParam)
			res := gate.New(source, cfg.Options, log).Check(r.Context(), sess, forced)
			m.GateDecision(res.State.String(), forced)

			switch res.State {
			case gate.StateGranted:
				if res.Rotated {
					issueToken(w, cfg.CookieName, issuer, res.Session, log)
				}
				r = r.WithContext(WithSession(r.Context(), res.Session))
				if forced {
					r = stripParam(r, cfg.RefreshParam)
				}
				next.ServeHTTP(w, r)
			case gate.StateRedirecting:
				if res.Rotated {
					issueToken(w, cfg.CookieName, issuer, res.Session, log)
				}
				log.Info("session has no plan, redirecting", slog.String("user_uid", sess.UserUID))
				if wantsJSON(r) {
					render.Status(r, http.StatusPaymentRequired)
					render.JSON(w, r, response.PaymentRequired(cfg.UpsellURL))
					return
				}
				http.Redirect(w, r, cfg.UpsellURL, http.StatusSeeOther)
			default:
				log.Warn("plan check did not finish", slog.String("state", res.State.String()), sl.Err(res.Err))
				render.Status(r, http.StatusConflict)
				render.JSON(w, r, response.Error("plan check in progress"))
			}
		})
	}
}

func issueToken(w http.ResponseWriter, cookieName string, issuer TokenIssuer, sess *models.Session, log *slog.Logger) {
	token, err := issuer.Token(sess)
	if err != nil {
		log.Error("failed to issue token for refreshed session", sl.Err(err))
		return
	}
	SetSessionCookie(w, cookieName, token, sess.ExpiresAt)
	w.Header().Set(TokenHeader, token)
}

// stripParam возвращает копию запроса без параметра name.
func stripParam(r *http.Request, name string) *http.Request {
	u := *r.URL
	q := u.Query()
	q.Del(name)
	u.RawQuery = q.Encode()
	r2 := r.Clone(r.Context())
	r2.URL = &u
	r2.RequestURI = u.RequestURI()
	return r2
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
