package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// SourceConfig configures one external reputation source. An empty APIKey
// disables the source entirely (not configured is distinct from
// unavailable).
type SourceConfig struct {
	Enabled bool          `yaml:"enabled"`
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// BuildSources constructs the enabled sources from config.
func BuildSources(vt, abuse, otx SourceConfig) []Source {
	var sources []Source
	if vt.Enabled && vt.APIKey != "" {
		sources = append(sources, NewVirusTotalSource(vt))
	}
	if abuse.Enabled && abuse.APIKey != "" {
		sources = append(sources, NewAbuseDBSource(abuse))
	}
	if otx.Enabled && otx.APIKey != "" {
		sources = append(sources, NewOTXSource(otx))
	}
	return sources
}

// VirusTotalSource queries the VirusTotal URL/resource report API. Any
// engine flagging the resource malicious adds a 50-point boost.
type VirusTotalSource struct {
	cfg    SourceConfig
	client *http.Client
}

// NewVirusTotalSource creates the source.
func NewVirusTotalSource(cfg SourceConfig) *VirusTotalSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.virustotal.com/vtapi/v2"
	}
	return &VirusTotalSource{cfg: cfg, client: &http.Client{}}
}

func (s *VirusTotalSource) Name() string           { return "virustotal" }
func (s *VirusTotalSource) Timeout() time.Duration { return s.cfg.Timeout }

// Check queries one report per address.
func (s *VirusTotalSource) Check(ctx context.Context, addrs []string) (*SourceReport, error) {
	report := &SourceReport{}
	for _, addr := range addrs {
		q := url.Values{}
		q.Set("apikey", s.cfg.APIKey)
		q.Set("resource", addr)

		var body struct {
			Positives int `json:"positives"`
			Scans     map[string]struct {
				Detected bool   `json:"detected"`
				Result   string `json:"result"`
			} `json:"scans"`
		}
		if err := getJSON(ctx, s.client, s.cfg.BaseURL+"/url/report?"+q.Encode(), nil, &body); err != nil {
			return nil, err
		}

		if body.Positives > 0 {
			report.Boost += 50
			report.IOCs = append(report.IOCs, fmt.Sprintf("virustotal flagged %s (%d engines)", addr, body.Positives))
			for _, scan := range body.Scans {
				if scan.Detected && scan.Result != "" {
					report.MalwareFamilies = append(report.MalwareFamilies, scan.Result)
				}
			}
		}
	}
	return report, nil
}

// AbuseDBSource queries an AbuseIPDB-style endpoint. An abuse confidence
// above 75% adds a 30-point boost.
type AbuseDBSource struct {
	cfg    SourceConfig
	client *http.Client
}

// NewAbuseDBSource creates the source.
func NewAbuseDBSource(cfg SourceConfig) *AbuseDBSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.abuseipdb.com/api/v2"
	}
	return &AbuseDBSource{cfg: cfg, client: &http.Client{}}
}

func (s *AbuseDBSource) Name() string           { return "abusedb" }
func (s *AbuseDBSource) Timeout() time.Duration { return s.cfg.Timeout }

// Check queries the abuse confidence for each address.
func (s *AbuseDBSource) Check(ctx context.Context, addrs []string) (*SourceReport, error) {
	report := &SourceReport{}
	for _, addr := range addrs {
		q := url.Values{}
		q.Set("address", addr)

		var body struct {
			Data struct {
				AbuseConfidence int `json:"abuseConfidencePercentage"`
				TotalReports    int `json:"totalReports"`
			} `json:"data"`
		}
		headers := map[string]string{"Key": s.cfg.APIKey}
		if err := getJSON(ctx, s.client, s.cfg.BaseURL+"/check?"+q.Encode(), headers, &body); err != nil {
			return nil, err
		}

		if body.Data.AbuseConfidence > 75 {
			report.Boost += 30
			report.IOCs = append(report.IOCs,
				fmt.Sprintf("abusedb confidence %d%% for %s (%d reports)", body.Data.AbuseConfidence, addr, body.Data.TotalReports))
		}
	}
	return report, nil
}

// OTXSource queries an Open Threat Exchange-style indicator API. Each
// pulse referencing the indicator adds 10 points, capped at 30 per lookup.
type OTXSource struct {
	cfg    SourceConfig
	client *http.Client
}

// NewOTXSource creates the source.
func NewOTXSource(cfg SourceConfig) *OTXSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://otx.alienvault.com/api/v1"
	}
	return &OTXSource{cfg: cfg, client: &http.Client{}}
}

func (s *OTXSource) Name() string           { return "otx" }
func (s *OTXSource) Timeout() time.Duration { return s.cfg.Timeout }

// Check queries the general indicator endpoint for each address.
func (s *OTXSource) Check(ctx context.Context, addrs []string) (*SourceReport, error) {
	report := &SourceReport{}
	for _, addr := range addrs {
		var body struct {
			PulseInfo struct {
				Count  int `json:"count"`
				Pulses []struct {
					Name            string   `json:"name"`
					MalwareFamilies []string `json:"malware_families"`
				} `json:"pulses"`
			} `json:"pulse_info"`
		}
		headers := map[string]string{"X-OTX-API-KEY": s.cfg.APIKey}
		endpoint := fmt.Sprintf("%s/indicators/hostname/%s/general", s.cfg.BaseURL, url.PathEscape(addr))
		if err := getJSON(ctx, s.client, endpoint, headers, &body); err != nil {
			return nil, err
		}

		if n := body.PulseInfo.Count; n > 0 {
			boost := n * 10
			if boost > 30 {
				boost = 30
			}
			report.Boost += boost
			report.IOCs = append(report.IOCs, fmt.Sprintf("otx pulses for %s: %d", addr, n))
			for _, pulse := range body.PulseInfo.Pulses {
				report.MalwareFamilies = append(report.MalwareFamilies, pulse.MalwareFamilies...)
			}
		}
	}
	return report, nil
}

// getJSON performs a GET with context and decodes a JSON body. The
// per-source timeout lives in ctx; the http.Client carries none so the
// context deadline is the only budget.
func getJSON(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("source returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
