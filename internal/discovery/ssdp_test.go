// SPDX-License-Identifier: MIT
package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSSDPResponse(t *testing.T) {
	raw := strings.Join([]string{
		"HTTP/1.1 200 OK",
		"LOCATION: http://192.168.1.40:8008/ssdp/device-desc.xml",
		"USN: uuid:abc-123::urn:dial-multiscreen-org:service:dial:1",
		"ST: urn:dial-multiscreen-org:service:dial:1",
		"Server: Linux/4.9 UPnP/1.0 Chromecast/1.56",
		"EXT:",
		"",
	}, "\r\n")

	headers := parseSSDPResponse([]byte(raw))
	assert.Equal(t, "http://192.168.1.40:8008/ssdp/device-desc.xml", headers["location"])
	assert.Equal(t, "uuid:abc-123::urn:dial-multiscreen-org:service:dial:1", headers["usn"])
	assert.Equal(t, "urn:dial-multiscreen-org:service:dial:1", headers["st"])
	assert.Equal(t, "Linux/4.9 UPnP/1.0 Chromecast/1.56", headers["server"])
	assert.Empty(t, headers["location-missing"])
}

func TestParseSSDPResponseMalformed(t *testing.T) {
	assert.Empty(t, parseSSDPResponse([]byte("garbage")))
	headers := parseSSDPResponse([]byte("HTTP/1.1 200 OK\r\nno colon line\r\nKey: value\r\n"))
	assert.Equal(t, map[string]string{"key": "value"}, headers)
}

func TestLooksLikeAppleTV(t *testing.T) {
	assert.True(t, looksLikeAppleTV("AirTunes/366.0", "", "", ""))
	assert.True(t, looksLikeAppleTV("", "Apple Inc.", "", ""))
	assert.True(t, looksLikeAppleTV("", "", "AppleTV14,1", ""))
	assert.True(t, looksLikeAppleTV("", "", "", "Wohnzimmer tvOS"))
	assert.False(t, looksLikeAppleTV("Linux UPnP", "Sony", "Bravia", "Living Room TV"))
}

func TestDeviceRefStable(t *testing.T) {
	a := deviceRef("192.168.1.40", "http://192.168.1.40/desc.xml", "scr-1", "uuid:x")
	b := deviceRef("192.168.1.40", "http://192.168.1.40/desc.xml", "scr-1", "uuid:changed-after-reboot")
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "192.168.1.40-"))
	assert.Len(t, strings.TrimPrefix(a, "192.168.1.40-"), 12)

	// Without a screen id the USN participates, and a missing host
	// falls back to a generic prefix.
	c := deviceRef("", "http://192.168.1.40/desc.xml", "", "uuid:x")
	d := deviceRef("", "http://192.168.1.40/desc.xml", "", "uuid:y")
	assert.NotEqual(t, c, d)
	assert.True(t, strings.HasPrefix(c, "device-"))
}

func TestExtractXMLFields(t *testing.T) {
	namespaced := []byte(`<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <friendlyName>Living Room TV</friendlyName>
    <manufacturer>Sony</manufacturer>
    <modelName>KD-55X80J</modelName>
  </device>
</root>`)
	fields := extractXMLFields(namespaced, "friendlyName", "manufacturer", "modelName")
	assert.Equal(t, "Living Room TV", fields["friendlyName"])
	assert.Equal(t, "Sony", fields["manufacturer"])
	assert.Equal(t, "KD-55X80J", fields["modelName"])

	bare := []byte(`<root><device><friendlyName> Shield </friendlyName></device></root>`)
	fields = extractXMLFields(bare, "friendlyName", "manufacturer")
	assert.Equal(t, "Shield", fields["friendlyName"])
	assert.Empty(t, fields["manufacturer"])

	assert.Empty(t, extractXMLFields([]byte("not xml at all"), "friendlyName"))
}

// tvServer fakes a DIAL-capable TV: device description plus the
// YouTube app status document carrying the lounge screen id.
func tvServer(t *testing.T, friendlyName, manufacturer, modelName, screenID string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/desc.xml", func(w http.ResponseWriter, _ *http.Request) {
		if screenID != "" {
			w.Header().Set("Application-URL", srv.URL+"/apps/")
		}
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(`<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <friendlyName>` + friendlyName + `</friendlyName>
    <manufacturer>` + manufacturer + `</manufacturer>
    <modelName>` + modelName + `</modelName>
  </device>
</root>`))
	})
	mux.HandleFunc("/apps/YouTube", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(`<?xml version="1.0"?>
<service xmlns="urn:dial-multiscreen-org:schemas:dial" dialVer="2.1">
  <name>YouTube</name>
  <state>running</state>
  <additionalData>
    <screenId>` + screenID + `</screenId>
  </additionalData>
</service>`))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func loungeNameServer(t *testing.T, names map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pairing/get_lounge_token_batch", r.URL.Path)
		require.NoError(t, r.ParseForm())
		name := names[r.PostForm.Get("screen_ids")]
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"screens":[{"screenId":"` + r.PostForm.Get("screen_ids") + `","name":"` + name + `"}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestScanner(responses []ssdpResponse, loungeBase string) *Scanner {
	s := NewScanner()
	s.loungeBase = loungeBase
	s.search = func(time.Duration, int) ([]ssdpResponse, error) {
		return responses, nil
	}
	return s
}

func TestScanEnrichesFiltersAndSorts(t *testing.T) {
	tv := tvServer(t, "Living Room TV", "Sony", "KD-55X80J", "scr-abc")
	appleTV := tvServer(t, "Apple TV", "Apple Inc.", "AppleTV14,1", "")
	printer := tvServer(t, "Office Printer", "HP", "LaserJet", "")
	lounge := loungeNameServer(t, map[string]string{"scr-abc": "Family Room"})

	s := newTestScanner([]ssdpResponse{
		{Location: printer.URL + "/desc.xml", USN: "uuid:printer", ST: dialST},
		{Location: appleTV.URL + "/desc.xml", USN: "uuid:apple", ST: dialST, Server: "AirPlay/366.0"},
		{Location: tv.URL + "/desc.xml", USN: "uuid:sony", ST: dialST, Server: "Linux UPnP"},
	}, lounge.URL)

	devices, err := s.Scan(context.Background(), 0, 0)
	require.NoError(t, err)

	// The printer is neither a lounge screen nor an Apple TV and is
	// dropped once pairable candidates exist.
	require.Len(t, devices, 2)

	first := devices[0]
	assert.Equal(t, "scr-abc", first.ScreenID)
	assert.Equal(t, "Family Room", first.ScreenName)
	assert.Equal(t, "Family Room", first.DisplayName)
	assert.Equal(t, "Living Room TV", first.FriendlyName)
	assert.Equal(t, "Sony", first.Manufacturer)
	assert.Equal(t, "KD-55X80J", first.ModelName)
	assert.Equal(t, "127.0.0.1", first.Host)
	assert.False(t, first.ProbableAppleTV)
	assert.True(t, strings.HasPrefix(first.DeviceRef, "127.0.0.1-"))

	second := devices[1]
	assert.Empty(t, second.ScreenID)
	assert.True(t, second.ProbableAppleTV)
	assert.Equal(t, "Apple TV", second.DisplayName)
}

func TestScanKeepsEverythingWhenNothingPairable(t *testing.T) {
	plain := tvServer(t, "Some Device", "Acme", "Box", "")
	s := newTestScanner([]ssdpResponse{
		{Location: plain.URL + "/desc.xml", USN: "uuid:plain", ST: dialST},
	}, "http://unused.invalid")

	devices, err := s.Scan(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "Some Device", devices[0].DisplayName)
	assert.Empty(t, devices[0].ScreenID)
}

func TestScanUnreachableLocationDegrades(t *testing.T) {
	s := newTestScanner([]ssdpResponse{
		{Location: "http://127.0.0.1:1/desc.xml", USN: "uuid:gone", ST: dialST, Server: "tvOS"},
	}, "http://unused.invalid")
	s.http.Timeout = 200 * time.Millisecond

	devices, err := s.Scan(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Empty(t, devices[0].FriendlyName)
	assert.Empty(t, devices[0].ScreenID)
	// Server header alone marks it a probable Apple TV.
	assert.True(t, devices[0].ProbableAppleTV)
	assert.Equal(t, "127.0.0.1", devices[0].DisplayName)
}

func TestScanSortsByNameWithinSameTier(t *testing.T) {
	zebra := tvServer(t, "Zebra TV", "Apple", "AppleTV", "")
	alpha := tvServer(t, "alpha tv", "Apple", "AppleTV", "")
	s := newTestScanner([]ssdpResponse{
		{Location: zebra.URL + "/desc.xml", USN: "uuid:z", ST: dialST},
		{Location: alpha.URL + "/desc.xml", USN: "uuid:a", ST: dialST},
	}, "http://unused.invalid")

	devices, err := s.Scan(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "alpha tv", devices[0].DisplayName)
	assert.Equal(t, "Zebra TV", devices[1].DisplayName)
}

func TestScanSearchErrorPropagates(t *testing.T) {
	s := NewScanner()
	s.search = func(time.Duration, int) ([]ssdpResponse, error) {
		return nil, context.DeadlineExceeded
	}
	_, err := s.Scan(context.Background(), 0, 0)
	require.Error(t, err)
}
