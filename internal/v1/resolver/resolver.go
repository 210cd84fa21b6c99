// Package resolver classifies video source URLs and decides how playback
// should be delivered: straight to the origin (youtube, hls, file-direct) or
// through the byte-range proxy (file-proxy). Resolution is a one-shot,
// best-effort step; it never fails, it only degrades to the proxy.
package resolver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/whonoahexe/sideby.me-sub001/internal/v1/logging"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/metrics"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/types"
)

// Decision reason markers, appended in the order decisions are taken.
const (
	ReasonYouTubeDetected   = "youtube-detected"
	ReasonHLSManifest       = "hls-manifest"
	ReasonHeadSuccess       = "head-success"
	ReasonHeadNon200        = "head-non-200"
	ReasonHeadAccessDenied  = "head-access-denied"
	ReasonRangeAccessDenied = "range-access-denied"
	ReasonCodecWarning      = "codec-warning"
	ReasonDirectPlayable    = "direct-playable"
	ReasonFallbackProxy     = "fallback-proxy"
	ReasonProbeTimeout      = "probe-timeout"

	reasonContainerPrefix = "container-"
)

const rangeProbeBytes = 1024

// Service resolves source URLs into playback decisions.
type Service struct {
	client       *http.Client
	proxyPath    string
	probeTimeout time.Duration
	totalTimeout time.Duration
}

// New creates a resolver. proxyPath is the path of the byte-range proxy that
// proxied playback URLs point at. Redirects are followed by the underlying
// client; per-probe and total deadlines come from configuration.
func New(proxyPath string, probeTimeout, totalTimeout time.Duration) *Service {
	return &Service{
		client:       &http.Client{},
		proxyPath:    proxyPath,
		probeTimeout: probeTimeout,
		totalTimeout: totalTimeout,
	}
}

// Resolve classifies rawURL and returns the playback decision. It never
// returns an error: anything that cannot be confirmed playable within the
// time budget falls back to the proxy, and the DecisionReasons trail records
// how the outcome was reached.
func (s *Service) Resolve(ctx context.Context, rawURL string) *types.VideoMeta {
	ctx, cancel := context.WithTimeout(ctx, s.totalTimeout)
	defer cancel()

	meta := s.resolve(ctx, rawURL)

	metrics.ResolverResolutions.WithLabelValues(string(meta.DeliveryType)).Inc()
	logging.Info(ctx, "resolved video source",
		zap.String("delivery", string(meta.DeliveryType)),
		zap.Strings("reasons", meta.DecisionReasons))
	return meta
}

func (s *Service) resolve(ctx context.Context, rawURL string) *types.VideoMeta {
	meta := &types.VideoMeta{
		OriginalURL: rawURL,
		PlaybackURL: rawURL,
		Timestamp:   time.Now(),
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return s.proxyFallback(meta)
	}

	if isYouTubeHost(parsed.Hostname()) {
		meta.DeliveryType = types.DeliveryYouTube
		meta.VideoType = types.VideoTypeYouTube
		meta.DecisionReasons = append(meta.DecisionReasons, ReasonYouTubeDetected)
		return meta
	}

	if strings.HasSuffix(strings.ToLower(parsed.Path), ".m3u8") {
		meta.DeliveryType = types.DeliveryHLS
		meta.VideoType = types.VideoTypeM3U8
		meta.DecisionReasons = append(meta.DecisionReasons, ReasonHLSManifest)
		return meta
	}

	return s.resolveFile(ctx, meta, rawURL)
}

// resolveFile runs the HEAD and range probes for a plain file URL.
func (s *Service) resolveFile(ctx context.Context, meta *types.VideoMeta, rawURL string) *types.VideoMeta {
	resp, err := s.headProbe(ctx, rawURL)
	if err != nil {
		if isTimeout(err) {
			meta.DecisionReasons = append(meta.DecisionReasons, ReasonProbeTimeout)
		}
		return s.proxyFallback(meta)
	}

	contentType := mediaType(resp.Header.Get("Content-Type"))
	meta.Probe = types.ProbeResult{
		Status:       resp.StatusCode,
		ContentType:  contentType,
		AcceptRanges: resp.Header.Get("Accept-Ranges"),
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		meta.DecisionReasons = append(meta.DecisionReasons, ReasonHeadAccessDenied)
		return s.proxyFallback(meta)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		meta.DecisionReasons = append(meta.DecisionReasons, ReasonHeadSuccess)
	default:
		meta.DecisionReasons = append(meta.DecisionReasons, ReasonHeadNon200)
		return s.proxyFallback(meta)
	}

	container := containerForMediaType(contentType)

	// An absent or generic content type tells us nothing; pull the first KiB
	// and look for a container signature.
	if contentType == "" || contentType == "application/octet-stream" {
		status, body, err := s.rangeProbe(ctx, rawURL)
		switch {
		case err != nil:
			if isTimeout(err) {
				meta.DecisionReasons = append(meta.DecisionReasons, ReasonProbeTimeout)
			}
			return s.proxyFallback(meta)
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			meta.DecisionReasons = append(meta.DecisionReasons, ReasonRangeAccessDenied)
			return s.proxyFallback(meta)
		}

		sniffed, warning := sniffContainer(body)
		if sniffed != "" {
			container = sniffed
			meta.ContainerHint = sniffed
			meta.DecisionReasons = append(meta.DecisionReasons, reasonContainerPrefix+sniffed)
			if warning != "" {
				meta.CodecWarning = warning
				meta.DecisionReasons = append(meta.DecisionReasons, ReasonCodecWarning)
			}
		}
	} else if container != "" {
		meta.ContainerHint = container
	}

	if strings.HasPrefix(contentType, "video/") || container != "" {
		meta.DeliveryType = types.DeliveryFileDirect
		// Only mp4 gets a player type; webm/ts sources play direct but are
		// typed none so the client does not instantiate the wrong element.
		if container == "mp4" {
			meta.VideoType = types.VideoTypeMP4
		} else {
			meta.VideoType = types.VideoTypeNone
		}
		meta.DecisionReasons = append(meta.DecisionReasons, ReasonDirectPlayable)
		return meta
	}

	return s.proxyFallback(meta)
}

// ProxyURL returns the proxied playback URL for an original source. The
// playback coordinator uses it when error reports force a late switch to
// proxy delivery.
func (s *Service) ProxyURL(original string) string {
	return s.proxyPath + "?url=" + url.QueryEscape(original)
}

// proxyFallback routes playback through the byte-range proxy.
func (s *Service) proxyFallback(meta *types.VideoMeta) *types.VideoMeta {
	meta.DeliveryType = types.DeliveryFileProxy
	meta.VideoType = types.VideoTypeMP4
	meta.PlaybackURL = s.proxyPath + "?url=" + url.QueryEscape(meta.OriginalURL)
	meta.RequiresProxy = true
	meta.DecisionReasons = append(meta.DecisionReasons, ReasonFallbackProxy)
	return meta
}

func (s *Service) headProbe(ctx context.Context, rawURL string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	metrics.ResolverProbeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	return resp, nil
}

func (s *Service) rangeProbe(ctx context.Context, rawURL string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Range", "bytes=0-1023")

	start := time.Now()
	resp, err := s.client.Do(req)
	metrics.ResolverProbeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, rangeProbeBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// isYouTubeHost matches youtube.com (any subdomain) and youtu.be.
func isYouTubeHost(host string) bool {
	host = strings.ToLower(host)
	return host == "youtube.com" || strings.HasSuffix(host, ".youtube.com") || host == "youtu.be"
}

// mediaType strips parameters like "; charset=..." from a Content-Type value.
func mediaType(header string) string {
	if header == "" {
		return ""
	}
	if mt, _, ok := strings.Cut(header, ";"); ok {
		return strings.TrimSpace(strings.ToLower(mt))
	}
	return strings.TrimSpace(strings.ToLower(header))
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
