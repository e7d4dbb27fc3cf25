package manifest

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Variant is one quality option advertised by a multivariant manifest.
type Variant struct {
	// Resolution is the literal WIDTHxHEIGHT string from the manifest.
	Resolution string `json:"resolution"`
	// BandwidthKbps is the advertised bandwidth in kbps (0 when absent).
	BandwidthKbps int `json:"bandwidth"`
	// Ordinal is the 1-based position in manifest declaration order.
	Ordinal int `json:"ordinal"`
}

// Text renders the variant the way the resolution panel displays it.
func (v Variant) Text() string {
	bandwidth := "unknown"
	if v.BandwidthKbps > 0 {
		bandwidth = fmt.Sprintf("%d kbps", v.BandwidthKbps)
	}
	return fmt.Sprintf("%d. Resolution: %s, Bandwidth: %s", v.Ordinal, v.Resolution, bandwidth)
}

var (
	resolutionRegex = regexp.MustCompile(`RESOLUTION=(\d+x\d+)`)
	bandwidthRegex  = regexp.MustCompile(`BANDWIDTH=(\d+)`)
)

// ExtractResolutions fetches the manifest at url and extracts its resolution
// ladder. The returned slice is in declaration order with contiguous ordinals
// starting at 1; it is empty (not nil-erroring) when the manifest advertises
// no resolution variants. Callers replace any previously displayed list with
// the result.
func (p *Parser) ExtractResolutions(ctx context.Context, url string) ([]Variant, error) {
	body, _, err := p.fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetching manifest: %w", err)
	}

	return ParseResolutions(body), nil
}

// ParseResolutions scans manifest text for #EXT-X-STREAM-INF lines carrying a
// RESOLUTION attribute. Tag matching is literal substring matching: the
// manifest grammar is line-oriented and sparse, a full parse buys nothing
// here.
func ParseResolutions(body string) []Variant {
	var variants []Variant

	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "#EXT-X-STREAM-INF:") || !strings.Contains(line, "RESOLUTION=") {
			continue
		}

		m := resolutionRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		variant := Variant{
			Resolution: m[1],
			Ordinal:    len(variants) + 1,
		}

		if bm := bandwidthRegex.FindStringSubmatch(line); bm != nil {
			bits, err := strconv.Atoi(bm[1])
			if err == nil {
				variant.BandwidthKbps = int(math.Round(float64(bits) / 1000))
			}
		}

		variants = append(variants, variant)
	}

	return variants
}
