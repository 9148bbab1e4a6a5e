package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fundroom/api/internal/content"
	"fundroom/api/internal/docgen"
	"fundroom/api/internal/metrics"
	"fundroom/api/internal/objectstore"
	"fundroom/api/internal/rendercache"
)

type renderCache interface {
	Get(context.Context, string) ([]byte, bool, error)
	Set(context.Context, string, []byte) error
}

type documentStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (objectstore.Object, error)
	PresignedURL(ctx context.Context, key, filename string, expiry time.Duration) (string, error)
}

type documentRenderer interface {
	Render(context.Context, docgen.Request) (*docgen.Result, error)
}

// RenderInput selects what to render. Content, when set, is an unsaved draft
// rendered in place of the active version.
type RenderInput struct {
	Content *content.Value  `json:"content"`
	Data    docgen.FundData `json:"data"`
	Format  string          `json:"format"`
	Store   bool            `json:"store"`
}

type RenderOutput struct {
	Document  docgen.Result
	Version   string
	Cache     string
	ObjectKey string
	URL       string
}

type cachedDocument struct {
	Data     []byte `json:"data"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
}

const draftVersion = "draft"

// Render generates a document for templateType from the active version or a
// draft. Identical concurrent renders share one generation, and results are
// cached by content, fund data and format.
func (s *Service) Render(ctx context.Context, templateType string, input RenderInput) (RenderOutput, error) {
	if err := validateType(templateType); err != nil {
		return RenderOutput{}, err
	}
	format, ok := docgen.ParseFormat(input.Format)
	if !ok {
		return RenderOutput{}, validationError(fmt.Sprintf("unsupported format %q", input.Format), map[string]any{"field": "format"})
	}
	if s.integrations.Renderer == nil {
		return RenderOutput{}, unavailableError("RENDERER_UNAVAILABLE", "Document generation is not configured")
	}
	if input.Store && s.integrations.Documents == nil {
		return RenderOutput{}, unavailableError("OBJECT_STORE_UNAVAILABLE", "Document storage is not configured")
	}

	request := docgen.Request{Type: templateType, Fund: input.Data, Format: format}
	if input.Content != nil {
		request.Content = *input.Content
		request.Version = draftVersion
	} else {
		active, err := s.store.GetActiveTemplateVersion(ctx, templateType)
		if err != nil {
			return RenderOutput{}, err
		}
		if active == nil {
			return RenderOutput{}, notFoundError(fmt.Sprintf("template %s has no active version", templateType))
		}
		request.Content = active.Content
		request.Version = active.Version
	}

	fundJSON, err := json.Marshal(request.Fund)
	if err != nil {
		return RenderOutput{}, fmt.Errorf("encode fund data: %w", err)
	}
	key := rendercache.Key([]byte(templateType), request.Content.Canonical(), fundJSON, []byte(format))

	doc, cacheState, err := s.renderCached(ctx, key, request)
	if err != nil {
		return RenderOutput{}, err
	}
	metrics.DocumentsRendered.WithLabelValues(templateType, string(format), cacheState).Inc()

	out := RenderOutput{Document: doc, Version: request.Version, Cache: cacheState}
	if !input.Store {
		return out, nil
	}

	out.ObjectKey = objectstore.ObjectKey(templateType, key, docgen.Extension(format), s.now())
	if _, err := s.integrations.Documents.Put(ctx, out.ObjectKey, doc.MimeType, doc.Data); err != nil {
		return RenderOutput{}, fmt.Errorf("store document: %w", err)
	}
	url, err := s.integrations.Documents.PresignedURL(ctx, out.ObjectKey, doc.Filename, s.cfg.PresignTTL)
	if err != nil {
		return RenderOutput{}, fmt.Errorf("presign document: %w", err)
	}
	out.URL = url
	return out, nil
}

func (s *Service) renderCached(ctx context.Context, key string, request docgen.Request) (docgen.Result, string, error) {
	if cache := s.integrations.Cache; cache != nil {
		raw, hit, err := cache.Get(ctx, key)
		if err != nil {
			metrics.IntegrationFailures.WithLabelValues("render_cache").Inc()
			s.logger.Warn("render cache: get failed", zap.String("key", key), zap.Error(err))
		}
		if hit {
			var cached cachedDocument
			if err := json.Unmarshal(raw, &cached); err == nil {
				return docgen.Result(cached), "hit", nil
			}
			s.logger.Warn("render cache: dropping undecodable entry", zap.String("key", key))
		}
	}

	// One generation serves every caller waiting on key and outlives the
	// caller that started it. Each caller returns when its own ctx ends.
	renderCtx := context.WithoutCancel(ctx)
	results := s.renders.DoChan(key, func() (any, error) {
		started := time.Now()
		doc, err := s.integrations.Renderer.Render(renderCtx, request)
		if err != nil {
			return nil, err
		}
		metrics.DocumentRenderDuration.WithLabelValues(string(request.Format)).Observe(time.Since(started).Seconds())

		if cache := s.integrations.Cache; cache != nil {
			encoded, err := json.Marshal(cachedDocument(*doc))
			if err == nil {
				err = cache.Set(renderCtx, key, encoded)
			}
			if err != nil {
				metrics.IntegrationFailures.WithLabelValues("render_cache").Inc()
				s.logger.Warn("render cache: set failed", zap.String("key", key), zap.Error(err))
			}
		}
		return *doc, nil
	})

	select {
	case <-ctx.Done():
		return docgen.Result{}, "", fmt.Errorf("render document: %w", ctx.Err())
	case result := <-results:
		if result.Err != nil {
			return docgen.Result{}, "", renderError(result.Err)
		}
		return result.Val.(docgen.Result), "miss", nil
	}
}

func renderError(err error) error {
	switch {
	case errors.Is(err, docgen.ErrPDFDependencyMissing), errors.Is(err, docgen.ErrDOCXDependencyMissing):
		return unavailableError("RENDERER_UNAVAILABLE", err.Error())
	case errors.Is(err, docgen.ErrUnsupportedFormat):
		return validationError(err.Error(), nil)
	default:
		return fmt.Errorf("render document: %w", err)
	}
}
