// SPDX-License-Identifier: MIT

// Package discovery finds YouTube-capable TVs on the local network via
// SSDP and enriches each hit with its DIAL description and lounge
// screen id so the UI can offer them as pairing targets.
package discovery

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/joeblack2k/sentinel-yt/internal/log"
)

const (
	dialST           = "urn:dial-multiscreen-org:service:dial:1"
	multicastAddr    = "239.255.255.250"
	multicastPort    = 1900
	defaultWindow    = 2500 * time.Millisecond
	defaultMaxHits   = 30
	descriptionLimit = 256 << 10
)

var searchMessage = []byte(strings.Join([]string{
	"M-SEARCH * HTTP/1.1",
	"HOST: " + multicastAddr + ":1900",
	"MAN: \"ssdp:discover\"",
	"MX: 2",
	"ST: " + dialST,
	"",
	"",
}, "\r\n"))

// Device is one discovered TV, enriched as far as the network allowed.
// ScreenID is only set for screens that answered the DIAL YouTube probe
// and is what pairing ultimately needs.
type Device struct {
	Location        string `json:"location"`
	USN             string `json:"usn"`
	ST              string `json:"st"`
	Server          string `json:"server"`
	Host            string `json:"host"`
	ScreenID        string `json:"screen_id"`
	ScreenName      string `json:"screen_name"`
	FriendlyName    string `json:"friendly_name"`
	Manufacturer    string `json:"manufacturer"`
	ModelName       string `json:"model_name"`
	DisplayName     string `json:"display_name"`
	ProbableAppleTV bool   `json:"probable_apple_tv"`
	DeviceRef       string `json:"device_ref"`
}

type ssdpResponse struct {
	Location string
	USN      string
	ST       string
	Server   string
}

// Scanner runs one multicast sweep per call. It keeps no state between
// scans; stable identity comes from the DeviceRef hash instead.
type Scanner struct {
	http       *http.Client
	log        zerolog.Logger
	loungeBase string
	search     func(timeout time.Duration, maxResults int) ([]ssdpResponse, error)
}

func NewScanner() *Scanner {
	return &Scanner{
		http:       &http.Client{Timeout: 4 * time.Second},
		log:        xlog.WithComponent("discovery"),
		loungeBase: "https://www.youtube.com/api/lounge",
		search:     ssdpSearch,
	}
}

// Scan sweeps the network and returns pairing candidates. Screens with
// a lounge id sort first, then probable Apple TVs, then by name. When
// any candidate looks pairable the noise (printers, routers) is dropped.
func (s *Scanner) Scan(ctx context.Context, window time.Duration, maxResults int) ([]Device, error) {
	if window <= 0 {
		window = defaultWindow
	}
	if maxResults <= 0 {
		maxResults = defaultMaxHits
	}
	responses, err := s.search(window, maxResults)
	if err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(responses))
	for _, resp := range responses {
		dev := Device{
			Location: resp.Location,
			USN:      resp.USN,
			ST:       resp.ST,
			Server:   resp.Server,
		}
		if u, err := url.Parse(resp.Location); err == nil {
			dev.Host = u.Hostname()
		}
		dev.ScreenID, dev.ScreenName = s.probeScreenID(ctx, resp.Location)
		desc := s.fetchDescription(ctx, resp.Location)
		dev.FriendlyName = desc["friendlyName"]
		dev.Manufacturer = desc["manufacturer"]
		dev.ModelName = desc["modelName"]
		dev.DeviceRef = deviceRef(dev.Host, resp.Location, dev.ScreenID, resp.USN)
		dev.DisplayName = firstNonEmpty(dev.ScreenName, dev.FriendlyName, dev.ModelName, dev.Host, "Unknown TV")
		dev.ProbableAppleTV = looksLikeAppleTV(resp.Server, dev.Manufacturer, dev.ModelName, dev.FriendlyName)
		devices = append(devices, dev)
	}

	filtered := devices[:0:0]
	for _, dev := range devices {
		if dev.ScreenID != "" || dev.ProbableAppleTV {
			filtered = append(filtered, dev)
		}
	}
	if len(filtered) > 0 {
		devices = filtered
	}

	sort.SliceStable(devices, func(i, j int) bool {
		a, b := devices[i], devices[j]
		if (a.ScreenID != "") != (b.ScreenID != "") {
			return a.ScreenID != ""
		}
		if a.ProbableAppleTV != b.ProbableAppleTV {
			return a.ProbableAppleTV
		}
		return strings.ToLower(a.DisplayName) < strings.ToLower(b.DisplayName)
	})
	return devices, nil
}

// deviceRef is a stable identifier for a hit, independent of scan
// ordering and of the USN churn some TVs exhibit after a reboot.
func deviceRef(host, location, screenID, usn string) string {
	key := screenID
	if key == "" {
		key = usn
	}
	sum := sha1.Sum([]byte(location + "|" + key))
	if host == "" {
		host = "device"
	}
	return host + "-" + hex.EncodeToString(sum[:])[:12]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func looksLikeAppleTV(server, manufacturer, modelName, friendlyName string) bool {
	hay := strings.ToLower(strings.Join([]string{server, manufacturer, modelName, friendlyName}, " "))
	for _, needle := range []string{"apple", "apple tv", "appletv", "tvos", "airplay"} {
		if strings.Contains(hay, needle) {
			return true
		}
	}
	return false
}

// parseSSDPResponse reads the header block of an SSDP reply. The status
// line is skipped; keys are lower-cased.
func parseSSDPResponse(raw []byte) map[string]string {
	headers := map[string]string{}
	lines := strings.Split(string(raw), "\r\n")
	if len(lines) < 2 {
		return headers
	}
	for _, line := range lines[1:] {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	return headers
}

// ssdpSearch sends one M-SEARCH and collects unicast replies until the
// window closes, deduplicating on location|usn.
func ssdpSearch(timeout time.Duration, maxResults int) ([]ssdpResponse, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	dst := &net.UDPAddr{IP: net.IPv4(239, 255, 255, 250), Port: multicastPort}
	if _, err := conn.WriteToUDP(searchMessage, dst); err != nil {
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))

	seen := map[string]struct{}{}
	var out []ssdpResponse
	buf := make([]byte, 8192)
	for len(out) < maxResults {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			break
		}
		headers := parseSSDPResponse(buf[:n])
		location := headers["location"]
		usn := headers["usn"]
		if location == "" {
			continue
		}
		key := location + "|" + usn
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ssdpResponse{
			Location: location,
			USN:      usn,
			ST:       headers["st"],
			Server:   headers["server"],
		})
	}
	return out, nil
}

// fetchDescription pulls the UPnP device description and extracts the
// naming fields. Both namespaced and bare XML variants occur in the
// wild, so matching is by local element name.
func (s *Scanner) fetchDescription(ctx context.Context, location string) map[string]string {
	empty := map[string]string{}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return empty
	}
	resp, err := s.http.Do(req)
	if err != nil {
		s.log.Debug().Err(err).Str("location", location).Msg("device description fetch failed")
		return empty
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return empty
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, descriptionLimit))
	if err != nil {
		return empty
	}
	return extractXMLFields(body, "friendlyName", "manufacturer", "modelName")
}

// extractXMLFields returns the first non-empty text of each wanted
// element, matched on local name so namespaces do not matter.
func extractXMLFields(body []byte, fields ...string) map[string]string {
	want := map[string]bool{}
	for _, f := range fields {
		want[f] = true
	}
	out := map[string]string{}
	dec := xml.NewDecoder(bytes.NewReader(body))
	var current string
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if want[t.Name.Local] && out[t.Name.Local] == "" {
				current = t.Name.Local
			} else {
				current = ""
			}
		case xml.CharData:
			if current != "" {
				if text := strings.TrimSpace(string(t)); text != "" {
					out[current] = text
					current = ""
				}
			}
		case xml.EndElement:
			current = ""
		}
	}
	return out
}

// probeScreenID follows the DIAL application URL to the YouTube app
// status document and pulls the lounge screen id out of additionalData.
// A screen id in hand, the pairing API supplies the screen's name.
func (s *Scanner) probeScreenID(ctx context.Context, location string) (screenID, screenName string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return "", ""
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", ""
	}
	appURL := resp.Header.Get("Application-Url")
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, descriptionLimit))
	_ = resp.Body.Close()
	if appURL == "" {
		return "", ""
	}

	statusURL := strings.TrimRight(appURL, "/") + "/YouTube"
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return "", ""
	}
	resp, err = s.http.Do(req)
	if err != nil {
		s.log.Debug().Err(err).Str("url", statusURL).Msg("dial app status fetch failed")
		return "", ""
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", ""
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, descriptionLimit))
	if err != nil {
		return "", ""
	}
	fields := extractXMLFields(body, "screenId")
	screenID = fields["screenId"]
	if screenID == "" {
		return "", ""
	}
	return screenID, s.lookupScreenName(ctx, screenID)
}

// lookupScreenName resolves the screen's display name via the lounge
// pairing API. Failures are fine; the caller has fallbacks.
func (s *Scanner) lookupScreenName(ctx context.Context, screenID string) string {
	form := url.Values{"screen_ids": {screenID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.loungeBase+"/pairing/get_lounge_token_batch", strings.NewReader(form.Encode()))
	if err != nil {
		return ""
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.http.Do(req)
	if err != nil {
		return ""
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	var payload struct {
		Screens []struct {
			Name string `json:"name"`
		} `json:"screens"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return ""
	}
	if len(payload.Screens) == 0 {
		return ""
	}
	return payload.Screens[0].Name
}
