package bypass

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/FranksOps/shopsage/internal/storage"
)

// Detector reports whether a fetched product page is a bot challenge rather
// than the page itself, and which vendor served it.
type Detector func(res *storage.FetchResult) (detected bool, source string)

// DefaultDetectors returns the detectors applied to every enrichment fetch.
func DefaultDetectors() []Detector {
	return []Detector{
		detectCloudflare,
		detectAkamai,
		detectDataDome,
		detectPerimeterX,
		detectAmazonRobotCheck,
	}
}

// Analyze runs res through detectors and records the first hit on res.
func Analyze(res *storage.FetchResult, detectors []Detector) bool {
	if res == nil {
		return false
	}
	res.DetectedBot = false
	res.DetectionSrc = ""
	for _, d := range detectors {
		if detected, source := d(res); detected {
			res.DetectedBot = true
			res.DetectionSrc = source
			return true
		}
	}
	return false
}

func header(h map[string][]string, key string) string {
	if v := http.Header(h).Get(key); v != "" {
		return v
	}
	for k, vals := range h {
		if strings.EqualFold(k, key) && len(vals) > 0 {
			return vals[0]
		}
	}
	return ""
}

func server(res *storage.FetchResult) string {
	return strings.ToLower(header(res.Headers, "Server"))
}

func bodyHasAny(body []byte, needles ...string) bool {
	for _, n := range needles {
		if bytes.Contains(body, []byte(n)) {
			return true
		}
	}
	return false
}

func detectCloudflare(res *storage.FetchResult) (bool, string) {
	if res.StatusCode != http.StatusForbidden && res.StatusCode != http.StatusServiceUnavailable {
		return false, ""
	}
	if strings.Contains(server(res), "cloudflare") ||
		bodyHasAny(res.Body, "cf-browser-verification", "cloudflare-nginx", "cf-turnstile", "Attention Required! | Cloudflare") {
		return true, "Cloudflare"
	}
	return false, ""
}

func detectAkamai(res *storage.FetchResult) (bool, string) {
	if res.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if strings.Contains(server(res), "akamai") ||
		(bytes.Contains(res.Body, []byte("Reference #")) && bytes.Contains(res.Body, []byte("Access Denied"))) {
		return true, "Akamai"
	}
	return false, ""
}

func detectDataDome(res *storage.FetchResult) (bool, string) {
	if res.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if strings.Contains(server(res), "datadome") ||
		header(res.Headers, "X-DataDome") != "" ||
		header(res.Headers, "X-DataDome-Response") != "" ||
		bodyHasAny(res.Body, "geo.captcha-delivery.com", "datadome") {
		return true, "DataDome"
	}
	return false, ""
}

func detectPerimeterX(res *storage.FetchResult) (bool, string) {
	if res.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if header(res.Headers, "X-Px-Captcha") != "" ||
		bodyHasAny(res.Body, "client.perimeterx.net", "px-captcha", "_pxBlock") {
		return true, "PerimeterX"
	}
	return false, ""
}

// Retail sites often answer bots with a 200 or 503 captcha interstitial.
func detectAmazonRobotCheck(res *storage.FetchResult) (bool, string) {
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusServiceUnavailable {
		return false, ""
	}
	if bodyHasAny(res.Body, "/errors/validateCaptcha", "api-services-support@amazon.com") ||
		(bytes.Contains(res.Body, []byte("Robot Check")) && bytes.Contains(res.Body, []byte("captcha"))) {
		return true, "Amazon"
	}
	return false, ""
}
