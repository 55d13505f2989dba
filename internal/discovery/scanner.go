package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/mdns"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"glowctl/internal/lights"
)

const (
	// Concurrency bound for brute-force subnet probes. 254 hosts at
	// sub-second timeouts keeps the whole phase under a few seconds.
	probeWorkers     = 50
	probeHostTimeout = 800 * time.Millisecond

	mdnsTimeout = 3 * time.Second
	ssdpTimeout = 5 * time.Second
)

// Scanner orchestrates the multi-phase discovery flow: cheap broadcast
// queries first, brute-force subnet probing strictly as a fallback, and a
// final parallel per-brand discovery through the Manager.
type Scanner struct {
	logger       *log.Logger
	lightManager *lights.Manager
	elgatoCtrl   *lights.ElgatoController
}

func NewScanner(logger *log.Logger, lm *lights.Manager, elgato *lights.ElgatoController) *Scanner {
	return &Scanner{
		logger:       logger.WithPrefix("discovery"),
		lightManager: lm,
		elgatoCtrl:   elgato,
	}
}

type Result struct {
	Devices []lights.Device `json:"devices"`
	Errors  []string        `json:"errors,omitempty"`
}

type ScanProgress struct {
	Phase   string          `json:"phase"`
	Message string          `json:"message"`
	Devices []lights.Device `json:"devices,omitempty"`
}

// ScanAll runs every discovery phase. Progress notifications are
// serialized through an internal mutex, so the callback never sees
// concurrent invocations even though phases fan out internally.
func (s *Scanner) ScanAll(ctx context.Context, onProgress func(ScanProgress)) Result {
	result := Result{}

	var progressMu sync.Mutex
	progress := func(phase, message string, devices []lights.Device) {
		progressMu.Lock()
		defer progressMu.Unlock()
		s.logger.Info(message, "phase", phase)
		if onProgress != nil {
			onProgress(ScanProgress{Phase: phase, Message: message, Devices: devices})
		}
	}

	progress("elgato", "Searching for Elgato lights...", nil)
	mdnsFound := s.discoverElgatoViaMDNS(ctx)
	s.logger.Debug("mdns finished", "found", mdnsFound)

	// The subnet probe is expensive; run it only when the broadcast
	// query came up empty.
	if mdnsFound == 0 {
		progress("elgato", "Scanning subnet for Elgato lights...", nil)
		s.discoverElgatoViaProbe(ctx)
	}

	progress("hue", "Searching for Hue bridges...", nil)
	hueBridges := s.DiscoverHueBridges(ctx)
	if len(hueBridges) > 0 {
		progress("hue", fmt.Sprintf("Found %d Hue bridge(s), querying lights...", len(hueBridges)), nil)
	}

	progress("lights", "Querying all bridges and devices for lights...", nil)
	var totalFound int
	devices, brandErrs, err := s.lightManager.DiscoverAllWithProgress(ctx, func(newDevices []lights.Device) {
		totalFound += len(newDevices)
		progress("lights", fmt.Sprintf("Found %d light(s)...", totalFound), newDevices)
	})
	for _, e := range brandErrs {
		result.Errors = append(result.Errors, e.Error())
	}
	if err != nil {
		s.logger.Error("discovery failed across all brands", "err", err)
	}
	result.Devices = devices

	progress("done", fmt.Sprintf("Scan complete — found %d light(s)", len(devices)), nil)
	return result
}

func (s *Scanner) discoverElgatoViaMDNS(ctx context.Context) int {
	entries := make(chan *mdns.ServiceEntry, 10)
	found := 0

	go func() {
		params := &mdns.QueryParam{
			Service:             "_elg._tcp",
			Domain:              "local",
			Timeout:             mdnsTimeout,
			Entries:             entries,
			DisableIPv6:         true,
			WantUnicastResponse: true,
		}
		if err := mdns.Query(params); err != nil {
			s.logger.Warn("mdns query error", "err", err)
		}
		close(entries)
	}()

	for entry := range entries {
		if ctx.Err() != nil {
			return found
		}
		addr := entry.AddrV4.String()
		if addr == "" || addr == "<nil>" {
			continue
		}
		s.logger.Debug("mdns entry", "name", entry.Name, "addr", addr, "port", entry.Port)
		s.elgatoCtrl.AddDevice(addr)
		found++
	}
	return found
}

func (s *Scanner) discoverElgatoViaProbe(ctx context.Context) int {
	subnets := getLocalSubnets()
	if len(subnets) == 0 {
		s.logger.Warn("could not determine local subnets for probe scan")
		return 0
	}

	var (
		found int
		mu    sync.Mutex
	)
	sem := semaphore.NewWeighted(probeWorkers)

	for _, subnet := range subnets {
		s.logger.Debug("probing subnet", "subnet", subnet, "port", 9123)
		for _, ip := range expandSubnet(subnet) {
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			go func(addr string) {
				defer sem.Release(1)
				if isElgatoKeyLight(ctx, addr) {
					s.logger.Info("probe found Elgato light", "addr", addr)
					s.elgatoCtrl.AddDevice(addr)
					mu.Lock()
					found++
					mu.Unlock()
				}
			}(ip)
		}
	}

	// Drain: wait for all in-flight probes.
	_ = sem.Acquire(context.Background(), probeWorkers)
	return found
}

func isElgatoKeyLight(ctx context.Context, ip string) bool {
	client := &http.Client{Timeout: probeHostTimeout}
	url := fmt.Sprintf("http://%s:9123/elgato/accessory-info", ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// getLocalSubnets returns the /24 prefixes ("192.168.1") of every up,
// non-loopback IPv4 interface.
func getLocalSubnets() []string {
	var subnets []string
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP.To4()
			if ip == nil {
				continue
			}
			ones, bits := ipNet.Mask.Size()
			if ones == 0 || bits == 0 || ones > 24 {
				continue
			}
			subnets = append(subnets, fmt.Sprintf("%d.%d.%d", ip[0], ip[1], ip[2]))
		}
	}
	return subnets
}

func expandSubnet(prefix string) []string {
	ips := make([]string, 0, 254)
	for i := 1; i <= 254; i++ {
		ips = append(ips, fmt.Sprintf("%s.%d", prefix, i))
	}
	return ips
}

type DiscoveredHueBridge struct {
	IP   string `json:"ip"`
	Name string `json:"name"`
}

// DiscoverHueBridges runs the SSDP multicast query and the N-UPnP cloud
// lookup concurrently, deduplicating by address. The subnet probe runs
// only when both come back empty.
func (s *Scanner) DiscoverHueBridges(ctx context.Context) []DiscoveredHueBridge {
	var mu sync.Mutex
	seen := make(map[string]bool)
	var bridges []DiscoveredHueBridge

	addBridge := func(ip, name string) {
		mu.Lock()
		defer mu.Unlock()
		if seen[ip] {
			return
		}
		seen[ip] = true
		bridges = append(bridges, DiscoveredHueBridge{IP: ip, Name: name})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.discoverHueViaSSDP(gctx, addBridge)
		return nil
	})
	g.Go(func() error {
		s.discoverHueViaCloud(gctx, addBridge)
		return nil
	})
	_ = g.Wait()

	mu.Lock()
	found := len(bridges)
	mu.Unlock()

	if found == 0 {
		s.logger.Info("SSDP and cloud found nothing, falling back to subnet probe")
		s.discoverHueViaProbe(ctx, addBridge)
	}

	return bridges
}

func (s *Scanner) discoverHueViaSSDP(ctx context.Context, addBridge func(ip, name string)) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		s.logger.Warn("ssdp: failed to open UDP socket", "err", err)
		return
	}
	defer conn.Close()

	ssdpAddr, err := net.ResolveUDPAddr("udp4", "239.255.255.250:1900")
	if err != nil {
		s.logger.Warn("ssdp: failed to resolve multicast address", "err", err)
		return
	}

	searchTargets := []string{
		"ssdp:all",
		"urn:schemas-upnp-org:device:Basic:1",
		"upnp:rootdevice",
	}

	for _, st := range searchTargets {
		msg := "M-SEARCH * HTTP/1.1\r\n" +
			"HOST: 239.255.255.250:1900\r\n" +
			"MAN: \"ssdp:discover\"\r\n" +
			"ST: " + st + "\r\n" +
			"MX: 3\r\n" +
			"\r\n"
		if _, err := conn.WriteTo([]byte(msg), ssdpAddr); err != nil {
			s.logger.Warn("ssdp: M-SEARCH send failed", "target", st, "err", err)
		}
	}

	deadline := time.Now().Add(ssdpTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline.Add(-500 * time.Millisecond)
	}

	buf := make([]byte, 4096)
	seen := make(map[string]bool)

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			s.logger.Debug("ssdp: read error", "err", err)
			continue
		}

		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		ip := udpAddr.IP.String()

		response := strings.ToUpper(string(buf[:n]))
		isHue := strings.Contains(response, "HUE") ||
			strings.Contains(response, "PHILIPS") ||
			strings.Contains(response, "IPBRIDGE")
		if !isHue || seen[ip] {
			continue
		}
		seen[ip] = true

		s.logger.Info("ssdp found Hue bridge", "ip", ip)
		addBridge(ip, "Hue Bridge")
	}
}

func (s *Scanner) discoverHueViaCloud(ctx context.Context, addBridge func(ip, name string)) {
	nupnpURLs := []string{
		"https://discovery.meethue.com/",
		"https://www.meethue.com/api/nupnp",
		"http://www.meethue.com/api/nupnp",
	}

	client := &http.Client{Timeout: 5 * time.Second}

	for _, url := range nupnpURLs {
		if ctx.Err() != nil {
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			s.logger.Debug("nupnp lookup failed", "url", url, "err", err)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			s.logger.Debug("nupnp lookup rejected", "url", url, "status", resp.StatusCode)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			continue
		}

		var results []struct {
			ID                string `json:"id"`
			InternalIPAddress string `json:"internalipaddress"`
			Port              int    `json:"port"`
		}
		if err := json.Unmarshal(body, &results); err != nil {
			s.logger.Debug("nupnp parse error", "url", url, "err", err)
			continue
		}

		found := false
		for _, r := range results {
			if r.InternalIPAddress == "" {
				continue
			}
			name := "Hue Bridge"
			if len(r.ID) >= 6 {
				name = "Hue Bridge (" + r.ID[len(r.ID)-6:] + ")"
			}
			s.logger.Info("nupnp found Hue bridge", "ip", r.InternalIPAddress, "id", r.ID)
			addBridge(r.InternalIPAddress, name)
			found = true
		}
		if found {
			return
		}
	}
}

func (s *Scanner) discoverHueViaProbe(ctx context.Context, addBridge func(ip, name string)) {
	subnets := getLocalSubnets()
	if len(subnets) == 0 {
		s.logger.Warn("could not determine local subnets for Hue probe")
		return
	}

	client := lights.NewHueHTTPClient(time.Second)
	sem := semaphore.NewWeighted(probeWorkers)

	for _, subnet := range subnets {
		s.logger.Debug("probing subnet", "subnet", subnet, "port", 443)
		for _, ip := range expandSubnet(subnet) {
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			go func(addr string) {
				defer sem.Release(1)
				if isHueBridge(ctx, client, addr) {
					s.logger.Info("probe found Hue bridge", "addr", addr)
					addBridge(addr, "Hue Bridge")
				}
			}(ip)
		}
	}

	_ = sem.Acquire(context.Background(), probeWorkers)
}

// isHueBridge considers any host answering /api/config with a bridgeid a
// bridge. Older firmware answers plain HTTP, newer only HTTPS.
func isHueBridge(ctx context.Context, httpsClient *http.Client, ip string) bool {
	urls := []string{
		fmt.Sprintf("http://%s/api/config", ip),
		fmt.Sprintf("https://%s/api/0/config", ip),
	}

	for _, url := range urls {
		client := httpsClient
		if strings.HasPrefix(url, "http://") {
			client = &http.Client{Timeout: time.Second}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			continue
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		if err != nil {
			continue
		}

		var config struct {
			BridgeID string `json:"bridgeid"`
		}
		if err := json.Unmarshal(body, &config); err != nil {
			continue
		}
		if config.BridgeID != "" {
			return true
		}
	}
	return false
}
