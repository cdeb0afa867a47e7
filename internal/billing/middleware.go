package billing

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/omni/beacon-gateway/internal/jwks"
	"go.opentelemetry.io/otel"
)

const entityTypeUser = "user"
const otelTracerName = "beacon-gateway/billing"

func extractBearer(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	return strings.TrimPrefix(header, prefix), true
}

// Middleware enforces Aether entitlements and usage limits ahead of
// next. It is a no-op (passes straight through) when:
//   - state is nil (billing disabled),
//   - no Authorization header is present,
//   - the JWT fails validation (other middleware will reject the request).
func Middleware(state *State, jwtCache *jwks.Cache, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "billing")

	return func(next http.Handler) http.Handler {
		if state == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := extractBearer(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := jwtCache.Validate(r.Context(), token)
			if err != nil {
				logger.Debug("jwt validation failed, skipping billing checks", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			entityID := claims.Sub

			allowed, err := checkEntitlement(r.Context(), state, entityTypeUser, entityID)
			if err != nil {
				recordBillingError(state)
				handleUpstreamError(w, r, next, state.FailMode, logger, err)
				return
			}
			if !allowed {
				recordBillingReject(state)
				http.Error(w, "API access not granted for this account", http.StatusForbidden)
				return
			}

			allowed, err = checkUsage(r.Context(), state, entityTypeUser, entityID)
			if err != nil {
				recordBillingError(state)
				handleUpstreamError(w, r, next, state.FailMode, logger, err)
				return
			}
			if !allowed {
				recordBillingReject(state)
				http.Error(w, "usage limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func checkEntitlement(ctx context.Context, state *State, entityType, entityID string) (bool, error) {
	if cached, ok := state.cache.getEntitlement(entityType, entityID, featureAPIAccess); ok {
		return cached, nil
	}
	ctx, span := otel.Tracer(otelTracerName).Start(ctx, "billing.check_entitlement")
	defer span.End()
	allowed, err := state.Client.CheckEntitlement(ctx, entityType, entityID, featureAPIAccess)
	if err != nil {
		return false, err
	}
	state.cache.putEntitlement(entityType, entityID, featureAPIAccess, allowed)
	return allowed, nil
}

func checkUsage(ctx context.Context, state *State, entityType, entityID string) (bool, error) {
	if cached, ok := state.cache.getUsage(entityType, entityID, meterKeyRequests); ok {
		return cached, nil
	}
	ctx, span := otel.Tracer(otelTracerName).Start(ctx, "billing.check_usage")
	defer span.End()
	allowed, err := state.Client.CheckUsage(ctx, entityType, entityID, meterKeyRequests, 1.0)
	if err != nil {
		return false, err
	}
	state.cache.putUsage(entityType, entityID, meterKeyRequests, allowed)
	return allowed, nil
}

func recordBillingError(state *State) {
	if state.Metrics != nil {
		state.Metrics.BillingCheckErrors.Add(context.Background(), 1)
	}
}

func recordBillingReject(state *State) {
	if state.Metrics != nil {
		state.Metrics.BillingRejects.Add(context.Background(), 1)
	}
}

func handleUpstreamError(w http.ResponseWriter, r *http.Request, next http.Handler, mode FailMode, logger *slog.Logger, err error) {
	switch mode {
	case FailClosed:
		logger.Error("aether unreachable, rejecting request (fail-closed mode)", "error", err)
		http.Error(w, "billing service unavailable", http.StatusServiceUnavailable)
	default:
		logger.Warn("aether unreachable, allowing request through (fail-open mode)", "error", err)
		next.ServeHTTP(w, r)
	}
}
