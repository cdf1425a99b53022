package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/streamquest/internal/activity"
	"github.com/MarcoPoloResearchLab/streamquest/internal/auth"
	"github.com/MarcoPoloResearchLab/streamquest/internal/database"
	"github.com/MarcoPoloResearchLab/streamquest/internal/media"
	"github.com/MarcoPoloResearchLab/streamquest/internal/metrics"
	"github.com/MarcoPoloResearchLab/streamquest/internal/players"
	"github.com/MarcoPoloResearchLab/streamquest/internal/progression"
	"github.com/MarcoPoloResearchLab/streamquest/internal/ranking"
	"github.com/MarcoPoloResearchLab/streamquest/internal/unlocks"
	"github.com/MarcoPoloResearchLab/streamquest/internal/watchtime"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	testSigningSecret = "server-test-secret"
	testIssuer        = "tauth"
	testCookieName    = "app_session"
	testInternalKey   = "server-test-internal-key"
	jsonContentType   = "application/json"
)

type serverHarness struct {
	server   *httptest.Server
	catalog  *media.Catalog
	metrics  *metrics.Metrics
	realtime *RealtimeDispatcher
}

func newServerHarness(testContext *testing.T) serverHarness {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	db, err := database.Open(context.Background(), database.Options{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(testContext.TempDir(), "server.db"),
	}, logger)
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	ledger, err := watchtime.NewLedger(watchtime.LedgerConfig{Database: db, Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to build ledger: %v", err)
	}
	progressionService, err := progression.NewService(progression.ServiceConfig{Database: db, Ledger: ledger, Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to build progression service: %v", err)
	}
	catalog, err := media.NewCatalog(media.CatalogConfig{Database: db, Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to build catalog: %v", err)
	}
	tracker, err := unlocks.NewTracker(unlocks.TrackerConfig{Database: db, Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to build tracker: %v", err)
	}
	history := activity.NewHistory(db, logger)
	engine, err := unlocks.NewEngine(unlocks.EngineConfig{
		Database: db,
		Tracker:  tracker,
		Media:    catalog,
		History:  history,
		Logger:   logger,
	})
	if err != nil {
		testContext.Fatalf("failed to build engine: %v", err)
	}
	serviceMetrics := metrics.New()
	dispatcher := NewRealtimeDispatcher()
	activityService, err := activity.NewService(activity.ServiceConfig{
		Database:     db,
		XP:           progressionService,
		Tracker:      tracker,
		Unlocks:      engine,
		Requirements: catalog,
		Observers:    []activity.Observer{serviceMetrics, dispatcher},
		Logger:       logger,
	})
	if err != nil {
		testContext.Fatalf("failed to build activity service: %v", err)
	}
	playerService, err := players.NewService(players.ServiceConfig{Database: db, Awarder: progressionService, Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to build player service: %v", err)
	}
	rankingService, err := ranking.NewService(ranking.ServiceConfig{
		Progress:     progressionService,
		WatchTime:    ledger,
		Players:      playerService,
		Activity:     history,
		DefaultLimit: 10,
		Logger:       logger,
	})
	if err != nil {
		testContext.Fatalf("failed to build ranking service: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		CookieName:    testCookieName,
	})
	if err != nil {
		testContext.Fatalf("failed to build session validator: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		SessionValidator:  validator,
		Players:           playerService,
		Activity:          activityService,
		Progression:       progressionService,
		Tracker:           tracker,
		Unlocks:           engine,
		Rankings:          rankingService,
		Metrics:           serviceMetrics,
		Realtime:          dispatcher,
		InternalAPIKey:    testInternalKey,
		HeartbeatInterval: time.Hour,
		Logger:            logger,
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	testContext.Cleanup(testServer.Close)
	return serverHarness{server: testServer, catalog: catalog, metrics: serviceMetrics, realtime: dispatcher}
}

func (h serverHarness) mustSaveMedia(testContext *testing.T, definition media.Definition) {
	testContext.Helper()
	if err := h.catalog.Save(context.Background(), definition); err != nil {
		testContext.Fatalf("failed to save media %s: %v", definition.Media.MediaID, err)
	}
}

func mustMintSessionToken(testContext *testing.T, userID string) string {
	testContext.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSigningSecret))
	if err != nil {
		testContext.Fatalf("failed to sign session token: %v", err)
	}
	return signed
}

// grantCard posts a card grant to the internal route with the provided key.
func (h serverHarness) grantCard(testContext *testing.T, internalKey, userID, cardID string, out any) int {
	testContext.Helper()
	encoded, err := json.Marshal(map[string]string{"card_id": cardID})
	if err != nil {
		testContext.Fatalf("failed to encode body: %v", err)
	}
	request, err := http.NewRequest(http.MethodPost, h.server.URL+"/internal/players/"+userID+"/cards", bytes.NewReader(encoded))
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", jsonContentType)
	if internalKey != "" {
		request.Header.Set(internalKeyHeader, internalKey)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("card grant failed: %v", err)
	}
	defer response.Body.Close()
	if out != nil {
		if err := json.NewDecoder(response.Body).Decode(out); err != nil {
			testContext.Fatalf("failed to decode card grant response: %v", err)
		}
	}
	return response.StatusCode
}

// doJSON sends body as JSON with the session cookie and decodes the response into out when non-nil.
func (h serverHarness) doJSON(testContext *testing.T, method, path, token string, body any, out any) int {
	testContext.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			testContext.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, h.server.URL+path, reader)
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", jsonContentType)
	}
	if token != "" {
		request.AddCookie(&http.Cookie{Name: testCookieName, Value: token})
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer response.Body.Close()
	if out != nil {
		if err := json.NewDecoder(response.Body).Decode(out); err != nil {
			testContext.Fatalf("failed to decode %s %s response: %v", method, path, err)
		}
	}
	return response.StatusCode
}
