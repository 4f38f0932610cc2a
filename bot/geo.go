package bot

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	pw "github.com/playwright-community/playwright-go"
)

// Geolocation is a concrete position override injected into a browser
// context. A nil *Geolocation means "no override": grant the permission and
// let the browser report its own position.
type Geolocation struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
}

// ipGeoProvider is one public IP-geolocation endpoint. DefaultAccuracy is
// the coarse accuracy assumed for that provider when the config does not
// pin one.
type ipGeoProvider struct {
	URL             string
	DefaultAccuracy float64
}

// ipGeoProviders is the ordered lookup chain for source=ip. Overridable in
// tests.
var ipGeoProviders = []ipGeoProvider{
	{URL: "https://ipapi.co/json", DefaultAccuracy: 1000},
	{URL: "http://ip-api.com/json", DefaultAccuracy: 2000},
}

var ipGeoClient = &http.Client{Timeout: 10 * time.Second}

// fetchIPGeolocation queries the provider chain in order and returns the
// first usable position. Returns nil when every provider fails; it never
// returns an error.
func fetchIPGeolocation() *Geolocation {
	for _, provider := range ipGeoProviders {
		resp, err := ipGeoClient.Get(provider.URL)
		if err != nil {
			continue
		}
		var payload map[string]interface{}
		err = json.NewDecoder(resp.Body).Decode(&payload)
		resp.Body.Close()
		if err != nil {
			continue
		}
		if status, ok := payload["status"].(string); ok && status != "success" {
			continue
		}
		lat, latOK := geoNumber(payload, "latitude", "lat")
		lon, lonOK := geoNumber(payload, "longitude", "lon")
		if !latOK || !lonOK {
			continue
		}
		return &Geolocation{Latitude: lat, Longitude: lon, Accuracy: provider.DefaultAccuracy}
	}
	return nil
}

func geoNumber(payload map[string]interface{}, keys ...string) (float64, bool) {
	for _, key := range keys {
		if v, ok := payload[key].(float64); ok {
			return v, true
		}
	}
	return 0, false
}

// resolveGeolocation turns the configured geolocation policy into a
// concrete override, or nil for "no override". Network and parse failures
// are swallowed: worst case the browser self-reports.
func resolveGeolocation(geo GeoConfig) *Geolocation {
	source := strings.ToLower(geo.Source)
	if source == "" {
		source = "fixed"
	}
	if source == "browser" {
		return nil
	}
	if source == "ip" {
		if loc := fetchIPGeolocation(); loc != nil {
			if geo.Accuracy != nil {
				loc.Accuracy = *geo.Accuracy
			}
			return loc
		}
		// Lookup failed entirely; fall through to the fixed values if any.
	}
	if geo.Latitude != nil && geo.Longitude != nil {
		accuracy := 1000.0
		if geo.Accuracy != nil {
			accuracy = *geo.Accuracy
		}
		return &Geolocation{Latitude: *geo.Latitude, Longitude: *geo.Longitude, Accuracy: accuracy}
	}
	return nil
}

// probeBrowserGeolocation asks the page for the browser-reported position
// when source=browser. Diagnostic only: the resolved geolocation is fixed
// before navigation and this never changes it. Errors surface as warnings
// when require_browser is set, then execution continues after the
// configured wait.
func probeBrowserGeolocation(page pw.Page, geo GeoConfig) {
	if strings.ToLower(geo.Source) != "browser" {
		return
	}
	waitMS := geo.waitMS()
	require := true
	if geo.RequireBrowser != nil {
		require = *geo.RequireBrowser
	}
	page.WaitForTimeout(500)
	result, err := page.Evaluate(`() => new Promise((resolve) => {
		try {
			navigator.geolocation.getCurrentPosition(
				(pos) => resolve({ lat: pos.coords.latitude, lon: pos.coords.longitude, acc: pos.coords.accuracy }),
				(err) => resolve({ error: String(err && err.message || 'geolocation-error') })
			);
		} catch (e) {
			resolve({ error: String(e && e.message || 'geolocation-exception') });
		}
	})`)
	if err == nil {
		coords, ok := result.(map[string]interface{})
		if ok {
			if _, failed := coords["error"]; !failed {
				lat, _ := geoNumber(coords, "lat")
				lon, _ := geoNumber(coords, "lon")
				acc, _ := geoNumber(coords, "acc")
				log.Printf("📍 Browser geolocation: lat=%v, lon=%v, acc≈%.0fm", lat, lon, acc)
			} else if require {
				log.Printf("⚠️ Failed to get browser geolocation: %v", coords["error"])
			}
		}
		return
	}
	if require {
		log.Printf("⚠️ Browser geolocation query failed: %v", err)
	}
	if waitMS > 0 {
		page.WaitForTimeout(float64(waitMS))
	}
}
