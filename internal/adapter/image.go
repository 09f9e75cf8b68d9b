package adapter

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/user/knowledgebot/internal/types"
	"github.com/user/knowledgebot/pkg/llm"
)

const imageName = "image"

var unsafeName = regexp.MustCompile(`[^a-z0-9]+`)

// Image generates illustrations with an image-capable chat model and
// stores them under Dir.
type Image struct {
	lifecycle
	provider llm.Provider
	model    string
	dir      string
	now      func() time.Time
}

var _ types.Illustrator = (*Image)(nil)

func NewImage(p llm.Provider, model, dir string) *Image {
	img := &Image{provider: p, model: model, dir: dir, now: time.Now}
	img.lifecycle = lifecycle{name: imageName, release: p.Close}
	return img
}

// Call produces up to req.Max images, one per hint. Individual failures are
// logged and skipped; the call fails only when nothing was produced.
func (g *Image) Call(ctx context.Context, req types.ImageRequest) ([]types.Image, error) {
	if err := g.check("generate"); err != nil {
		return nil, err
	}
	hints := req.Hints
	if len(hints) == 0 {
		hints = []string{req.Title}
	}
	if req.Max > 0 && len(hints) > req.Max {
		hints = hints[:req.Max]
	}
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}

	var (
		out     []types.Image
		lastErr error
	)
	for i, hint := range hints {
		prompt := imagePrompt(hint, req)
		img, err := g.generate(ctx, prompt, req.Title, i)
		if err != nil {
			if ctx.Err() != nil {
				return nil, classify(imageName, "generate", ctx.Err())
			}
			slog.Warn("image generation failed", "hint", hint, "error", err)
			lastErr = err
			continue
		}
		img.Description = hint
		out = append(out, *img)
	}
	if len(out) == 0 {
		if lastErr == nil {
			lastErr = errors.New("no images produced")
		}
		err := classify(imageName, "generate", lastErr)
		dropConnections(err, g.provider.Close)
		return nil, err
	}
	return out, nil
}

func (g *Image) generate(ctx context.Context, prompt, title string, n int) (*types.Image, error) {
	resp, err := g.provider.Complete(ctx, &llm.Request{
		Model:      g.model,
		Modalities: []string{"image", "text"},
		Messages:   []llm.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Images) == 0 {
		return nil, types.Rejected(imageName, "generate", types.ReasonMalformed, errors.New("response contained no image"))
	}
	data, ext, err := decodeDataURL(resp.Images[0])
	if err != nil {
		return nil, types.Rejected(imageName, "generate", types.ReasonMalformed, err)
	}

	name := fmt.Sprintf("%s_%s_%d.%s", g.now().Format("20060102_150405"), slugify(title, 40), n+1, ext)
	path := filepath.Join(g.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write image: %w", err)
	}
	return &types.Image{Reference: path, Prompt: prompt}, nil
}

func imagePrompt(hint string, req types.ImageRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Technical diagram: %s\n\n", hint)
	b.WriteString("Style: clean, professional, educational diagram with clear labels and visual hierarchy.\n")
	fmt.Fprintf(&b, "Subject: %s\n", req.Title)
	if req.Excerpt != "" {
		fmt.Fprintf(&b, "\nContext:\n%s\n", req.Excerpt)
	}
	return b.String()
}

// decodeDataURL accepts data:image/<type>;base64,<payload>.
func decodeDataURL(u string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(u, "data:")
	if !ok {
		return nil, "", fmt.Errorf("unsupported image reference %.40q", u)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, "", errors.New("image data url is not base64")
	}
	ext := "png"
	if mime := strings.TrimSuffix(meta, ";base64"); strings.HasPrefix(mime, "image/") {
		ext = strings.TrimPrefix(mime, "image/")
		if ext == "jpeg" {
			ext = "jpg"
		}
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return data, ext, nil
}

func slugify(s string, max int) string {
	slug := strings.Trim(unsafeName.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if len(slug) > max {
		slug = strings.TrimRight(slug[:max], "-")
	}
	if slug == "" {
		slug = "image"
	}
	return slug
}

// Healthcheck pings the model endpoint.
func (g *Image) Healthcheck(ctx context.Context) bool {
	return ping(ctx, &g.lifecycle, g.provider)
}
