// Package media is the collaborator that downloads linked media surfaced
// by a capture run. It sits outside the core pipeline: the orchestrator
// saves raw HTML, and this package mines it for image URLs and mirrors
// them to disk idempotently.
package media

import (
	"context"
	"crypto/sha1"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	ilog "cardmotion/internal/log"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

// ExtractImageURLs returns absolute image URLs referenced by the document.
// Relative references are resolved against base; duplicates are dropped.
func ExtractImageURLs(html string, base *url.URL) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "data:") {
			return
		}
		ref, err := url.Parse(raw)
		if err != nil {
			return
		}
		abs := ref
		if base != nil {
			abs = base.ResolveReference(ref)
		}
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		s := abs.String()
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	// One pass keeps document order; a <source> lands before its sibling
	// <img> exactly as the markup reads.
	doc.Find("img, source[srcset]").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok {
			add(src)
		}
		if srcset, ok := sel.Attr("srcset"); ok {
			for _, cand := range strings.Split(srcset, ",") {
				fields := strings.Fields(cand)
				if len(fields) > 0 {
					add(fields[0])
				}
			}
		}
	})
	return out, nil
}

type Downloader struct {
	client *resty.Client
	dir    string
}

func NewDownloader(dir string) *Downloader {
	return &Downloader{
		client: resty.New().
			SetTimeout(30 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond),
		dir: dir,
	}
}

// Fetch mirrors one URL into the download directory. An existing non-empty
// file wins: re-fetching the same URL is a no-op, which keeps interrupted
// runs resumable. Returns the local path and whether a download happened.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) (string, bool, error) {
	local := filepath.Join(d.dir, localName(rawURL))
	if fi, err := os.Stat(local); err == nil && fi.Size() > 0 {
		return local, false, nil
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", false, err
	}

	resp, err := d.client.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		return "", false, err
	}
	if !resp.IsSuccess() {
		return "", false, fmt.Errorf("http %d for %s", resp.StatusCode(), rawURL)
	}
	if err := os.WriteFile(local, resp.Body(), 0o644); err != nil {
		return "", false, err
	}
	return local, true, nil
}

// FetchAll mirrors every URL, continuing past individual failures.
func (d *Downloader) FetchAll(ctx context.Context, urls []string) (downloaded, skipped, failed int) {
	for _, u := range urls {
		if ctx.Err() != nil {
			return
		}
		_, fresh, err := d.Fetch(ctx, u)
		switch {
		case err != nil:
			failed++
			ilog.L().Warn().Str("url", u).Err(err).Msg("media download failed")
		case fresh:
			downloaded++
		default:
			skipped++
		}
	}
	return
}

// localName derives a stable file name from the URL. A short hash prefix
// disambiguates identical base names served from different paths.
func localName(rawURL string) string {
	sum := sha1.Sum([]byte(rawURL))
	base := "asset"
	if u, err := url.Parse(rawURL); err == nil {
		if b := path.Base(u.Path); b != "" && b != "/" && b != "." {
			base = sanitize(b)
		}
	}
	return fmt.Sprintf("%x_%s", sum[:4], base)
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
