// Command gateway wires the modbus library into a deployable daemon: it
// loads a YAML configuration, builds the configured transport Interfaces,
// runs exactly one of Client/Server/Bridge against them, and serves a
// small HTTP status API alongside.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/edgeflow/modbus/internal/config"
	"github.com/edgeflow/modbus/internal/gatewayapi"
	"github.com/edgeflow/modbus/internal/hal"
	"github.com/edgeflow/modbus/internal/health"
	"github.com/edgeflow/modbus/internal/logger"
	"github.com/edgeflow/modbus/internal/metrics"
	"github.com/edgeflow/modbus/pkg/modbus"
	"github.com/edgeflow/modbus/pkg/modbus/bridge"
	"github.com/edgeflow/modbus/pkg/modbus/client"
	"github.com/edgeflow/modbus/pkg/modbus/server"
	"github.com/edgeflow/modbus/pkg/modbus/transport"
)

func main() {
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		LogDir: cfg.Logger.LogDir,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("modbus gateway starting", zap.String("role", cfg.Role.Mode))

	if err := config.Watch(configPath, func(*config.Config) {
		logger.Info("config file changed on disk, restart the gateway to apply it")
	}); err != nil {
		logger.Warn("config watch failed", zap.Error(err))
	}

	m := metrics.NewMetrics()
	healthChecker := health.NewHealthChecker()

	profile := resolveProfile(cfg.Profile)
	enforceProfileLimits(profile, cfg)

	gpio := buildGPIO(cfg.Interfaces, profile.Modules.GPIO)

	ifaces := make(map[string]transport.Interface, len(cfg.Interfaces))
	for _, ic := range cfg.Interfaces {
		iface, err := buildInterface(ic, gpio, m)
		if err != nil {
			logger.Fatal("failed to build interface", zap.String("interface", ic.Name), zap.Error(err))
		}
		ifaces[ic.Name] = iface
		healthChecker.RegisterCheck(ic.Name, health.InterfaceHealthCheck(ic.Name, iface.IsReady), 10*time.Second)
	}

	var srv *server.Server
	var pollCron *cron.Cron

	switch cfg.Role.Mode {
	case "server":
		srv = buildServer(cfg, ifaces, m)
		healthChecker.RegisterCheck("word_store", health.WordStoreHealthCheck(srv.WordCount), 30*time.Second)
		if result := srv.Begin(); result != server.Success {
			logger.Fatal("server begin failed")
		}

	case "client":
		ic, iface, ok := firstClientInterface(cfg, ifaces)
		if !ok {
			logger.Fatal("client role requires at least one client-role interface")
		}
		timeout := time.Duration(ic.RequestTimeoutMs) * time.Millisecond
		cl := client.New(iface, timeout, m)
		if result := iface.Begin(); result != transport.Success {
			logger.Fatal("client interface begin failed", zap.Stringer("result", result))
		}
		if cfg.Role.PollSchedule != "" {
			pollCron = startPolling(cl, cfg.Role)
		}

	case "bridge":
		br, err := buildBridge(cfg, ifaces, m)
		if err != nil {
			logger.Fatal("failed to construct bridge", zap.Error(err))
		}
		if result := br.Begin(); result != bridge.Success {
			logger.Fatal("bridge begin failed")
		}

	default:
		logger.Fatal("unknown role mode", zap.String("mode", cfg.Role.Mode))
	}

	if profile.Features.APIAuth && os.Getenv(gatewayapi.JWTSecretEnv) == "" {
		logger.Fatal("resource profile requires API auth but "+gatewayapi.JWTSecretEnv+" is unset",
			zap.String("profile", string(profile.Name)))
	}
	app := gatewayapi.NewFromEnv(m, healthChecker, srv)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := app.Listen(addr); err != nil {
			logger.Error("http api stopped", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	if pollCron != nil {
		pollCron.Stop()
	}
	_ = app.Shutdown()
	for name, iface := range ifaces {
		if err := iface.Close(); err != nil {
			logger.Warn("interface close failed", zap.String("interface", name), zap.Error(err))
		}
	}
	if h, err := hal.GetGlobalHAL(); err == nil {
		_ = h.Close()
	}
}

// buildGPIO initializes internal/hal only when at least one configured RTU
// interface declares a real DE pin; a purely TCP or full-duplex deployment
// never touches GPIO. profileAllowsGPIO gates it further: a profile that
// disables the GPIO module (e.g. through a profile override file; every
// built-in profile enables it) skips HAL init even if an interface asks for a DE pin,
// and that interface runs DE-pin-less (full-duplex) instead.
func buildGPIO(ifaces []config.InterfaceConfig, profileAllowsGPIO bool) hal.GPIOProvider {
	needsGPIO := false
	for _, ic := range ifaces {
		if ic.Mode == "rtu" && ic.DEPin >= 0 {
			needsGPIO = true
			break
		}
	}
	if !needsGPIO {
		return nil
	}
	if !profileAllowsGPIO {
		logger.Warn("resource profile disables the gpio module, ignoring configured de_pin settings")
		return nil
	}

	h := initHAL()
	hal.SetGlobalHAL(h)
	return h.GPIO()
}

// resolveProfile picks the resource profile capping this gateway's
// interface and request concurrency: pinned explicitly via the profile
// config key, or auto-detected from the host board.
func resolveProfile(pinned string) *config.ProfileConfig {
	name := pinned
	if name == "" {
		info, err := hal.DetectBoard()
		if err != nil {
			name = string(config.DetectProfile())
		} else {
			name = string(config.ProfileForBoardInfo(info))
		}
	}

	profile, err := config.LoadProfile(name)
	if err != nil {
		logger.Fatal("failed to load resource profile", zap.String("profile", name), zap.Error(err))
	}
	if err := config.ValidateProfile(profile); err != nil {
		logger.Fatal("invalid resource profile", zap.String("profile", name), zap.Error(err))
	}

	logger.Info("resource profile selected",
		zap.String("profile", string(profile.Name)),
		zap.Int("max_interfaces", profile.MaxInterfaces),
		zap.Int("max_pending_requests", profile.MaxPendingRequests))
	return profile
}

// enforceProfileLimits refuses to start a deployment that configured more
// than its resource profile allows. Each client-role Interface admits at
// most one in-flight transaction at a time (see pkg/modbus/client), so the
// client-role interface count is exactly the gateway's pending-request
// ceiling.
func enforceProfileLimits(profile *config.ProfileConfig, cfg *config.Config) {
	if len(cfg.Interfaces) > profile.MaxInterfaces {
		logger.Fatal("configured interfaces exceed resource profile limit",
			zap.Int("configured", len(cfg.Interfaces)), zap.Int("max_interfaces", profile.MaxInterfaces))
	}

	clientIfaces := 0
	for _, ic := range cfg.Interfaces {
		if ic.Role == "client" {
			clientIfaces++
		}
	}
	if clientIfaces > profile.MaxPendingRequests {
		logger.Fatal("configured client interfaces exceed resource profile's pending request limit",
			zap.Int("client_interfaces", clientIfaces), zap.Int("max_pending_requests", profile.MaxPendingRequests))
	}
}

func buildInterface(ic config.InterfaceConfig, gpio hal.GPIOProvider, m *metrics.Metrics) (transport.Interface, error) {
	var role modbus.Role
	switch ic.Role {
	case "client":
		role = modbus.RoleClient
	case "server":
		role = modbus.RoleServer
	default:
		return nil, fmt.Errorf("unknown role %q", ic.Role)
	}

	switch ic.Mode {
	case "rtu":
		parity, err := parseParity(ic.Parity)
		if err != nil {
			return nil, err
		}
		stopBits, err := parseStopBits(ic.StopBits)
		if err != nil {
			return nil, err
		}

		var ifaceGPIO hal.GPIOProvider
		if ic.DEPin >= 0 {
			ifaceGPIO = gpio
		}

		cfg := transport.RTUConfig{
			Device:    ic.Device,
			BaudRate:  ic.BaudRate,
			DataBits:  ic.DataBits,
			Parity:    parity,
			StopBits:  stopBits,
			DEPin:     ic.DEPin,
			SilenceUs: ic.SilenceUs,
		}
		return transport.NewRTUInterface(cfg, role, byte(ic.SlaveID), ifaceGPIO, m), nil

	case "tcp":
		cfg := transport.TCPConfig{
			ListenAddr:       ic.ListenAddr,
			RemoteAddr:       ic.RemoteAddr,
			TxnSafetyTimeout: time.Duration(ic.TxnSafetyTimeout) * time.Millisecond,
		}
		return transport.NewTCPInterface(cfg, role, m), nil

	default:
		return nil, fmt.Errorf("unknown mode %q", ic.Mode)
	}
}

func parseParity(s string) (serial.Parity, error) {
	switch strings.ToUpper(s) {
	case "", "N":
		return serial.NoParity, nil
	case "E":
		return serial.EvenParity, nil
	case "O":
		return serial.OddParity, nil
	default:
		return 0, fmt.Errorf("unknown parity %q", s)
	}
}

func parseStopBits(n int) (serial.StopBits, error) {
	switch n {
	case 0, 1:
		return serial.OneStopBit, nil
	case 2:
		return serial.TwoStopBits, nil
	default:
		return 0, fmt.Errorf("unsupported stop bits %d", n)
	}
}

func primaryServerInterfaceConfig(cfg *config.Config) (config.InterfaceConfig, bool) {
	for _, ic := range cfg.Interfaces {
		if ic.Role == "server" {
			return ic, true
		}
	}
	return config.InterfaceConfig{}, false
}

func serverInterfaces(cfg *config.Config, ifaces map[string]transport.Interface) []transport.Interface {
	var out []transport.Interface
	for _, ic := range cfg.Interfaces {
		if ic.Role != "server" {
			continue
		}
		if iface, ok := ifaces[ic.Name]; ok {
			out = append(out, iface)
		}
	}
	return out
}

func firstClientInterface(cfg *config.Config, ifaces map[string]transport.Interface) (config.InterfaceConfig, transport.Interface, bool) {
	for _, ic := range cfg.Interfaces {
		if ic.Role != "client" {
			continue
		}
		if iface, ok := ifaces[ic.Name]; ok {
			return ic, iface, true
		}
	}
	return config.InterfaceConfig{}, nil, false
}

// reqMutexTimeoutFromMs translates the config's millisecond knob onto
// server.Config's real policy values: negative means block, zero means
// try-lock-and-fail-fast, positive is a bounded wait.
func reqMutexTimeoutFromMs(ms int) time.Duration {
	switch {
	case ms < 0:
		return server.ReqMutexBlock
	case ms == 0:
		return server.ReqMutexTryLock
	default:
		return time.Duration(ms) * time.Millisecond
	}
}

// buildServer constructs the single Server all server-role interfaces in
// this gateway share, serializing their concurrent access through its
// req_mutex. Server-scoped settings (slave id, req_mutex policy, word
// store capacity) come from the first configured server-role interface;
// a deployment mixing several server-role interfaces with conflicting
// settings should split them across separate gateway processes instead.
func buildServer(cfg *config.Config, ifaces map[string]transport.Interface, m *metrics.Metrics) *server.Server {
	primary, ok := primaryServerInterfaceConfig(cfg)
	if !ok {
		logger.Fatal("server role requires at least one server-role interface")
	}

	srv := server.New(server.Config{
		SlaveID:         byte(primary.SlaveID),
		RejectUndefined: primary.RejectUndefined,
		ReqMutexTimeout: reqMutexTimeoutFromMs(primary.ReqMutexTimeoutMs),
		WordStoreCap:    primary.WordStoreCapacity,
	}, m)

	wm, err := config.LoadWordMap(cfg.Role.WordMapPath)
	if err != nil {
		logger.Fatal("failed to load word map", zap.Error(err))
	}
	words := make([]*server.Word, 0, len(wm.Words))
	for _, spec := range wm.Words {
		w, err := spec.ToWord()
		if err != nil {
			logger.Fatal("invalid word map entry", zap.Error(err))
		}
		words = append(words, w)
	}
	if len(words) > 0 {
		if err := srv.AddWords(words); err != nil {
			logger.Fatal("failed to register word map", zap.Error(err))
		}
		logger.Info("word map loaded", zap.Int("words", len(words)))
	}

	for _, iface := range serverInterfaces(cfg, ifaces) {
		srv.Bind(iface)
	}
	return srv
}

func buildBridge(cfg *config.Config, ifaces map[string]transport.Interface, m *metrics.Metrics) (*bridge.Bridge, error) {
	clientIface, ok := ifaces[cfg.Role.BridgeClientInterface]
	if !ok {
		return nil, fmt.Errorf("bridge_client_interface %q not found", cfg.Role.BridgeClientInterface)
	}
	serverIface, ok := ifaces[cfg.Role.BridgeServerInterface]
	if !ok {
		return nil, fmt.Errorf("bridge_server_interface %q not found", cfg.Role.BridgeServerInterface)
	}
	return bridge.New(clientIface, serverIface, bridge.DefaultForwardTimeout, m)
}

func pollFunctionCode(s string) (modbus.FunctionCode, error) {
	switch s {
	case "", "read_holding_registers":
		return modbus.FuncReadHoldingRegisters, nil
	case "read_input_registers":
		return modbus.FuncReadInputRegisters, nil
	case "read_coils":
		return modbus.FuncReadCoils, nil
	case "read_discrete_inputs":
		return modbus.FuncReadDiscreteInputs, nil
	default:
		return 0, fmt.Errorf("unknown poll_fc %q", s)
	}
}

// startPolling schedules a repeating read against cl per role.PollSchedule,
// the periodic-poll loop a Client-role deployment needs that spec.md
// deliberately leaves to the caller to drive.
func startPolling(cl *client.Client, role config.RoleConfig) *cron.Cron {
	fc, err := pollFunctionCode(role.PollFC)
	if err != nil {
		logger.Fatal("invalid poll_fc", zap.Error(err))
	}
	slaveID := byte(role.PollSlaveID)
	addr := uint16(role.PollAddress)
	count := uint16(role.PollCount)
	if count == 0 {
		count = 1
	}

	c := cron.New()
	_, err = c.AddFunc(role.PollSchedule, func() {
		req := modbus.NewRequest(slaveID, fc, addr, count)
		var resp modbus.Frame
		if result := cl.SendRequest(&req, &resp, nil); result != client.Success {
			logger.Warn("scheduled poll failed", zap.Stringer("result", result))
			return
		}
		logger.Debug("scheduled poll completed", zap.Uint16("addr", addr), zap.Int("words", resp.Len))
	})
	if err != nil {
		logger.Fatal("invalid poll_schedule cron expression", zap.Error(err), zap.String("schedule", role.PollSchedule))
	}
	c.Start()
	return c
}
