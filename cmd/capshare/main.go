package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/storacha/go-ucanto/principal/ed25519/signer"

	"github.com/evanrel/capshare/internal/storage/blob"
	"github.com/evanrel/capshare/internal/storage/sqlite"
	"github.com/evanrel/capshare/pkg/authority"
	"github.com/evanrel/capshare/pkg/registry"
	"github.com/evanrel/capshare/pkg/server"
)

func main() {
	basePath := getEnv("DATA_PATH", "./data")
	port := getEnv("PORT", "8080")
	baseURL := getEnv("BASE_URL", "http://localhost:"+port)

	levelStr := getEnv("LOG_LEVEL", "info")
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		level = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// Load the authority keypair from env or generate an ephemeral one.
	// In production, load proper keys from secure storage.
	_, priv, err := loadKeys()
	if err != nil {
		logger.Error("failed to load keys", "error", err)
		os.Exit(1)
	}

	// Derive the authority's DID from the keypair
	serviceSigner, err := signer.FromRaw(priv)
	if err != nil {
		logger.Error("failed to create service signer", "error", err)
		os.Exit(1)
	}
	serviceDID := serviceSigner.DID().String()

	// Durable delegation store and object catalog
	store, err := sqlite.Open(basePath)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Content-addressed blob collaborator. The MapDatastore stands in for an
	// external blob service; swap the datastore for a persistent backend.
	blobs, err := blob.NewStore(dssync.MutexWrap(datastore.NewMapDatastore()), baseURL, logger)
	if err != nil {
		logger.Error("failed to create blob store", "error", err)
		os.Exit(1)
	}

	auth, err := authority.New(authority.Config{
		Store:      store,
		DID:        serviceDID,
		PrivateKey: priv,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to create authority", "error", err)
		os.Exit(1)
	}

	reg, err := registry.New(registry.Config{
		Catalog:   store,
		Authority: auth,
		Blobs:     blobs,
		BaseURL:   baseURL,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to create registry", "error", err)
		os.Exit(1)
	}

	apiHandler, err := server.New(
		server.WithRegistry(reg),
		server.WithLogger(logger),
	)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	fmt.Println("CAPSHARE Service Startup")
	fmt.Println("===================================")
	fmt.Printf("Authority DID: %s\n", serviceDID)
	if os.Getenv("CAPSHARE_PRIVATE_KEY") != "" {
		fmt.Println("Key Source: CAPSHARE_PRIVATE_KEY environment variable")
	} else {
		fmt.Println("Key Source: Ephemeral (generated on startup)")
	}
	fmt.Printf("Data Path: %s\n", basePath)
	fmt.Println()
	fmt.Println("API:")
	fmt.Printf("  POST %s/api/objects                  - upload\n", baseURL)
	fmt.Printf("  POST %s/api/objects/{id}/shares      - share\n", baseURL)
	fmt.Printf("  GET  %s/api/objects/{id}?proof=...   - access (view/download)\n", baseURL)
	fmt.Printf("  POST %s/api/objects/{id}/revoke      - revoke\n", baseURL)
	fmt.Printf("  GET  %s/api/owners/{owner}/objects   - list\n", baseURL)

	if err := http.ListenAndServe(":"+port, apiHandler.Routes()); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// loadKeys loads an Ed25519 keypair from CAPSHARE_PRIVATE_KEY or generates an
// ephemeral one.
func loadKeys() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	if privKeyEnv := os.Getenv("CAPSHARE_PRIVATE_KEY"); privKeyEnv != "" {
		priv, err := base64.StdEncoding.DecodeString(privKeyEnv)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decode CAPSHARE_PRIVATE_KEY: %w", err)
		}

		if len(priv) != ed25519.PrivateKeySize {
			return nil, nil, fmt.Errorf("CAPSHARE_PRIVATE_KEY must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
		}

		privKey := ed25519.PrivateKey(priv)
		return privKey.Public().(ed25519.PublicKey), privKey, nil
	}

	return ed25519.GenerateKey(nil)
}
