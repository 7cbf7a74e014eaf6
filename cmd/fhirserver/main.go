package main

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/ehr/fhir-core/internal/audit"
	"github.com/ehr/fhir-core/internal/config"
	"github.com/ehr/fhir-core/internal/fhir"
	"github.com/ehr/fhir-core/internal/oauth"
	"github.com/ehr/fhir-core/internal/platform/logging"
	"github.com/ehr/fhir-core/internal/platform/middleware"
	"github.com/ehr/fhir-core/internal/sqlsurface"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fhirserver",
		Short: "FHIR resource server with a built-in SMART-on-FHIR authorization server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(clientCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the FHIR server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// resourceTypes is the set of resources this deployment exposes. A real
// deployment would source this from a profile package; the core server
// registers a representative clinical slice.
var resourceTypes = []string{
	"Patient", "Practitioner", "Organization", "Encounter",
	"Condition", "Observation", "AllergyIntolerance", "MedicationRequest",
	"Immunization", "Procedure", "DiagnosticReport",
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New(cfg.Env)

	store := fhir.NewStore()
	engine := fhir.NewEngine(store)

	clients := oauth.NewClientStore()
	sessions := oauth.NewSessionStore()
	defer sessions.Close()
	refreshTokens := oauth.NewRefreshTokenStore()
	defer refreshTokens.Close()
	launches := oauth.NewLaunchContextStore(cfg.LaunchTTLDuration())

	authorizeSvc := oauth.NewAuthorizeService(clients, sessions, launches)
	authorizeSvc.CodeLifetime = cfg.CodeTTL()
	tokenSvc := oauth.NewTokenService(clients, sessions, refreshTokens, cfg.Issuer, []byte(cfg.SigningKey))
	tokenSvc.Audience = cfg.Audience

	auditSink := audit.NewZerologSink(logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "If-Match", "If-None-Match", "If-None-Exist", "Prefer", "X-Request-ID"},
		ExposeHeaders: []string{"ETag", "Location", "Content-Location", "Last-Modified"},
	}))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// The capability statement is published unauthenticated, per the SMART
	// discovery flow: a client must be able to read `/fhir/metadata` before
	// it has ever obtained a token.
	capBuilder := fhir.NewCapabilityBuilder(fmt.Sprintf("%s/fhir", cfg.Issuer), nil)
	for _, rt := range resourceTypes {
		capBuilder.AddResource(rt, nil)
	}
	e.GET("/fhir/metadata", engine.Capabilities(capBuilder))

	fhirGroup := e.Group("/fhir")
	fhirGroup.Use(middleware.BearerAuth(middleware.BearerAuthConfig{SigningKey: []byte(cfg.SigningKey), Issuer: cfg.Issuer, Audience: cfg.Audience}))
	fhirGroup.Use(middleware.RateLimit(rateLimitCfg))
	fhirGroup.Use(engine.NegotiationMiddleware())
	fhirGroup.Use(auditMiddleware(auditSink))

	for _, rt := range resourceTypes {
		engine.RegisterRoutes(fhirGroup, rt)
	}
	fhirGroup.POST("", engine.Batch)

	registerOAuthRoutes(e, cfg, clients, authorizeSvc, tokenSvc)
	registerSQLSurfaceRoute(fhirGroup, store)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// auditMiddleware records one audit event per FHIR request after the
// handler runs, mirroring the teacher's post-handler Audit middleware.
func auditMiddleware(sink audit.Sink) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			rid, _ := c.Get("request_id").(string)
			subject, _ := c.Get("oauth_subject").(string)
			clientID, _ := c.Get("oauth_client_id").(string)
			outcome := "success"
			if c.Response().Status >= 400 {
				outcome = "failure"
			}

			_ = sink.Record(audit.Event{
				Timestamp:    time.Now().UTC(),
				RequestID:    rid,
				SubjectID:    subject,
				ClientID:     clientID,
				Action:       audit.MethodToAction(c.Request().Method),
				ResourceType: firstPathSegment(c.Request().URL.Path, "/fhir/"),
				StatusCode:   c.Response().Status,
				IPAddress:    c.RealIP(),
				Outcome:      outcome,
			})
			return err
		}
	}
}

func firstPathSegment(path, prefix string) string {
	if len(path) <= len(prefix) {
		return ""
	}
	rest := path[len(prefix):]
	for i, r := range rest {
		if r == '/' {
			return rest[:i]
		}
	}
	return rest
}

// registerSQLSurfaceRoute exposes the analyst SQL surface at
// POST /fhir/_sql, the entry point an external SQL-on-FHIR LSP would target:
// a single-table equality SELECT translated into a Search Evaluator query.
func registerSQLSurfaceRoute(g *echo.Group, store *fhir.Store) {
	planner := sqlsurface.SimplePlanner{}
	g.POST("/_sql", func(c echo.Context) error {
		var req struct {
			Query string `json:"query"`
		}
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		}
		plan, err := planner.Plan(req.Query)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid_query", "error_description": err.Error()})
		}
		rows, err := sqlsurface.Execute(store, plan)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "execution_failed", "error_description": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"rows": rows})
	})
}

func registerOAuthRoutes(e *echo.Echo, cfg *config.Config, clients *oauth.ClientStore, authorizeSvc *oauth.AuthorizeService, tokenSvc *oauth.TokenService) {
	g := e.Group("/oauth")

	g.GET("/.well-known/smart-configuration", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"issuer":                                cfg.Issuer,
			"authorization_endpoint":                cfg.Issuer + "/oauth/authorize",
			"token_endpoint":                         cfg.Issuer + "/oauth/token",
			"capabilities":                           []string{"launch-ehr", "launch-standalone", "client-public", "client-confidential-symmetric", "sso-openid-connect", "context-standalone-patient"},
			"code_challenge_methods_supported":       []string{"S256"},
			"grant_types_supported":                  []string{"authorization_code", "refresh_token", "client_credentials"},
			"response_types_supported":               []string{"code"},
			"scopes_supported":                       []string{"openid", "fhirUser", "launch", "launch/patient", "launch/encounter", "offline_access"},
		})
	})

	g.POST("/clients", func(c echo.Context) error {
		var req struct {
			Name         string   `json:"name"`
			Confidential bool     `json:"confidential"`
			GrantTypes   []string `json:"grant_types"`
			RedirectURIs []string `json:"redirect_uris"`
			Scopes       []string `json:"scopes"`
			Secret       string   `json:"secret"`
		}
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		}
		client := &oauth.Client{
			ClientID:     uuid.NewString(),
			Name:         req.Name,
			Confidential: req.Confidential,
			Active:       true,
			GrantTypes:   req.GrantTypes,
			RedirectURIs: req.RedirectURIs,
			Scopes:       req.Scopes,
		}
		if req.Confidential {
			if req.Secret == "" {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "secret is required for confidential clients"})
			}
			sum := sha256.Sum256([]byte(req.Secret))
			client.SecretHash = base64.RawURLEncoding.EncodeToString(sum[:])
		}
		clients.Register(client)
		return c.JSON(http.StatusCreated, map[string]interface{}{
			"client_id": client.ClientID,
			"name":      client.Name,
		})
	})

	g.GET("/authorize", func(c echo.Context) error {
		req := oauth.AuthorizeRequest{
			ResponseType:        c.QueryParam("response_type"),
			ClientID:            c.QueryParam("client_id"),
			RedirectURI:         c.QueryParam("redirect_uri"),
			Scope:               c.QueryParam("scope"),
			State:               c.QueryParam("state"),
			CodeChallenge:       c.QueryParam("code_challenge"),
			CodeChallengeMethod: c.QueryParam("code_challenge_method"),
			Aud:                 c.QueryParam("aud"),
			Launch:              c.QueryParam("launch"),
			Nonce:               c.QueryParam("nonce"),
			RequireAud:          cfg.RequireAud,
		}
		session, oerr := authorizeSvc.Authorize(req)
		if oerr != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": oerr.Code, "error_description": oerr.Description})
		}
		return c.Redirect(http.StatusFound, fmt.Sprintf("%s?code=%s&state=%s", session.RedirectURI, session.Code, session.State))
	})

	g.POST("/token", func(c echo.Context) error {
		grantType := c.FormValue("grant_type")
		clientID := c.FormValue("client_id")

		switch grantType {
		case "authorization_code":
			resp, oerr := tokenSvc.Exchange(oauth.CodeExchangeRequest{
				Code:         c.FormValue("code"),
				RedirectURI:  c.FormValue("redirect_uri"),
				ClientID:     clientID,
				CodeVerifier: c.FormValue("code_verifier"),
			})
			if oerr != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": oerr.Code, "error_description": oerr.Description})
			}
			return c.JSON(http.StatusOK, resp)
		case "client_credentials":
			resp, oerr := tokenSvc.ClientCredentials(oauth.ClientCredentialsRequest{
				ClientID:     clientID,
				ClientSecret: c.FormValue("client_secret"),
				Scope:        c.FormValue("scope"),
			})
			if oerr != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": oerr.Code, "error_description": oerr.Description})
			}
			return c.JSON(http.StatusOK, resp)
		case "refresh_token":
			resp, oerr := tokenSvc.Refresh(oauth.RefreshRequest{
				RefreshToken: c.FormValue("refresh_token"),
				ClientID:     clientID,
				Scope:        c.FormValue("scope"),
			})
			if oerr != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": oerr.Code, "error_description": oerr.Description})
			}
			return c.JSON(http.StatusOK, resp)
		default:
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		}
	})
}

func clientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage OAuth clients (development helper; the server itself holds the authoritative client store in memory)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "register",
		Short: "Print a client registration request you can POST to /oauth/clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(`curl -X POST localhost:8000/oauth/clients -d '{"name":"example-app","confidential":false,"grant_types":["authorization_code","refresh_token"],"redirect_uris":["https://app.example.org/callback"],"scopes":["patient/*.read","launch","openid"]}'`)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered clients (requires a running server; use GET /oauth/clients once exposed by a deployment)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("client listing is served at runtime by the deployment's admin surface; this core does not persist clients across restarts")
			return nil
		},
	})
	return cmd
}
