// Package metadata builds display records for tokens: an immediate
// placeholder from configuration, upgraded with on-chain token URI
// content when it can be fetched.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/calyptra-labs/stakedeck/internal/config"
	"github.com/calyptra-labs/stakedeck/internal/monitoring"
	"github.com/calyptra-labs/stakedeck/internal/types"
	"github.com/rs/zerolog"
)

// maxMetadataBytes caps a token URI document read
const maxMetadataBytes = 64 * 1024

// tokenDocument is the conventional ERC-721 metadata shape. Attribute
// values arrive as strings or numbers depending on the minter, so they
// decode as raw JSON and stringify afterwards.
type tokenDocument struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Attributes  []struct {
		TraitType string          `json:"trait_type"`
		Value     json.RawMessage `json:"value"`
	} `json:"attributes"`
}

// Resolver turns token IDs and token URIs into display records
type Resolver struct {
	cfg    *config.MetadataConfig
	client *http.Client
	logger zerolog.Logger
}

// NewResolver creates a resolver with a bounded HTTP client
func NewResolver(cfg *config.MetadataConfig, logger zerolog.Logger) *Resolver {
	return &Resolver{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.FetchTimeoutDuration(),
		},
		logger: logger.With().Str("component", "metadata").Logger(),
	}
}

// Placeholder builds the immediate display record for a token. Every
// configured image base contributes one candidate URL, first candidate
// preferred.
func (r *Resolver) Placeholder(tokenID uint64) *types.NFTRecord {
	record := &types.NFTRecord{
		TokenID:     tokenID,
		DisplayName: fmt.Sprintf("%s #%d", r.cfg.NamePrefix, tokenID),
	}
	for _, base := range r.cfg.ImageBases {
		record.ImageCandidates = append(record.ImageCandidates, fmt.Sprintf("%s/%d.png", strings.TrimRight(base, "/"), tokenID))
	}
	return record
}

// Resolve fetches the token URI document and overlays it onto the
// placeholder. Any failure along the way returns the placeholder
// unchanged; display must never depend on metadata availability.
func (r *Resolver) Resolve(ctx context.Context, tokenID uint64, tokenURI string) *types.NFTRecord {
	record := r.Placeholder(tokenID)
	if tokenURI == "" {
		return record
	}

	doc, err := r.fetch(ctx, r.RewriteIPFS(tokenURI))
	if err != nil {
		monitoring.MetadataFetchesTotal.WithLabelValues("failure").Inc()
		r.logger.Debug().Err(err).Uint64("token_id", tokenID).Msg("Token metadata fetch failed, keeping placeholder")
		return record
	}
	monitoring.MetadataFetchesTotal.WithLabelValues("success").Inc()

	if doc.Name != "" {
		record.DisplayName = doc.Name
	}
	record.Description = doc.Description
	if doc.Image != "" {
		record.ImageCandidates = append([]string{r.RewriteIPFS(doc.Image)}, record.ImageCandidates...)
	}
	if len(doc.Attributes) > 0 {
		record.Attributes = make(map[string]string, len(doc.Attributes))
		for _, attr := range doc.Attributes {
			if attr.TraitType == "" {
				continue
			}
			record.Attributes[attr.TraitType] = rawToString(attr.Value)
		}
	}
	return record
}

// RewriteIPFS maps an ipfs:// URI onto the configured HTTP gateway.
// Other schemes pass through untouched.
func (r *Resolver) RewriteIPFS(uri string) string {
	if !strings.HasPrefix(uri, "ipfs://") {
		return uri
	}
	path := strings.TrimPrefix(uri, "ipfs://")
	path = strings.TrimPrefix(path, "ipfs/")
	return fmt.Sprintf("%s/ipfs/%s", strings.TrimRight(r.cfg.IPFSGateway, "/"), path)
}

func (r *Resolver) fetch(ctx context.Context, url string) (*tokenDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata request returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata body: %w", err)
	}

	var doc tokenDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse metadata document: %w", err)
	}
	return &doc, nil
}

func rawToString(raw json.RawMessage) string {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	return strings.TrimSpace(string(raw))
}
