// Command certcentral is the certificate-issuance daemon: it drives
// configured certificates through ACME issuance and renewal and
// republishes them to a stable on-disk layout. Flag and bootstrap
// structure follows the teacher's root main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/go-acme/lego/v3/challenge"

	"github.com/wikimedia/operations-software-certcentral/internal/acmeclient"
	"github.com/wikimedia/operations-software-certcentral/internal/acmeconfig"
	"github.com/wikimedia/operations-software-certcentral/internal/authzapi"
	"github.com/wikimedia/operations-software-certcentral/internal/controller"
	"github.com/wikimedia/operations-software-certcentral/internal/dns01"
	"github.com/wikimedia/operations-software-certcentral/internal/http01"
	"github.com/wikimedia/operations-software-certcentral/internal/logging"
	"github.com/wikimedia/operations-software-certcentral/internal/orderdriver"
	"github.com/wikimedia/operations-software-certcentral/internal/statelog"
)

var (
	configPath   = flag.String("config", "", "Main configuration file path")
	confDDir     = flag.String("conf-d", "", "Supplementary authorization conf.d directory")
	certsDir     = flag.String("certs-dir", "", "Certificates state directory")
	authzAddr    = flag.String("authz-addr", ":8443", "authzapi listen address")
	httpChalAddr = flag.String("http01-addr", ":80", "HTTP-01 challenge server listen address")
	debugLog     = flag.Bool("debug", false, "Enable debug output")
	jsonLog      = flag.Bool("json-log", false, "Emit structured JSON logs instead of console output")
	versionFlag  = flag.Bool("v", false, "Show version")
)

const version = "1.0.0"

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Println("certcentral", version)
		return
	}

	logging.Configure(*debugLog, *jsonLog)
	defer logging.Sync()

	if *configPath == "" || *certsDir == "" {
		logging.Fatal("-config and -certs-dir are required")
	}

	cfg, err := acmeconfig.Load(*configPath, *confDDir)
	if err != nil {
		logging.Fatal("config: %v", err)
	}

	if err := os.MkdirAll(*certsDir, 0700); err != nil {
		logging.Fatal("certs-dir: %v", err)
	}
	confDir := filepath.Dir(*configPath)

	httpSrv := http01.NewServer(*httpChalAddr)
	httpSrv.Start()

	sessions := newSessionPool(confDir, *certsDir, cfg, httpSrv)

	ctrl := controller.New(*certsDir, cfg, sessions.driverFor)

	if logPath := filepath.Join(*certsDir, "transitions.db"); true {
		tlog, err := statelog.Open(logPath)
		if err != nil {
			logging.Error("statelog: %v", err)
		} else {
			ctrl.SetTransitionLog(tlog)
			defer tlog.Close()
		}
	}

	authz := authzapi.NewServer(*authzAddr, *certsDir, ctrl.Config, ctrl)
	authz.Start()

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				logging.Info("received SIGHUP, reloading configuration")
				newCfg, err := acmeconfig.Load(*configPath, *confDDir)
				if err != nil {
					logging.Error("reload: %v (keeping previous configuration)", err)
					continue
				}
				ctrl.Reload(newCfg)
			case syscall.SIGTERM, syscall.SIGINT:
				logging.Info("received termination signal, shutting down")
				ctrl.Stop()
				cancel()
				return
			}
		}
	}()

	logging.Info("certcentral starting: %d certificates configured", len(cfg.Certificates))
	ctrl.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), dns01.DefaultTimeout)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = authz.Shutdown(shutdownCtx)
}

// sessionPool lazily builds one LegoSession (and its underlying
// Driver) per ACME account id, so every certificate referencing the
// same account shares one registered client rather than re-registering
// per certificate.
type sessionPool struct {
	confDir  string
	certsDir string
	cfg      *acmeconfig.Config
	httpSrv  *http01.Server

	mu      sync.Mutex
	drivers map[string]*orderdriver.Driver
}

func newSessionPool(confDir, certsDir string, cfg *acmeconfig.Config, httpSrv *http01.Server) *sessionPool {
	return &sessionPool{confDir: confDir, certsDir: certsDir, cfg: cfg, httpSrv: httpSrv, drivers: make(map[string]*orderdriver.Driver)}
}

func (p *sessionPool) driverFor(accountID string) (*orderdriver.Driver, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	acct, ok := p.cfg.AccountByID(accountID)
	if !ok {
		return nil, fmt.Errorf("sessionPool: unknown account %q", accountID)
	}

	if d, ok := p.drivers[acct.ID]; ok {
		return d, nil
	}

	account, err := acmeclient.LoadOrCreateAccount(p.confDir, acct.ID, acct.Directory, acct.Email)
	if err != nil {
		return nil, err
	}

	var http01Provider challenge.Provider = http01.NewProvider(p.httpSrv)

	var dnsPub *dns01.Publisher
	var dns01Provider challenge.Provider
	if p.cfg.Challenges.DNS01.ZoneUpdateCmd != "" {
		dnsPub = dns01.New(p.certsDir, p.cfg.Challenges.DNS01.ZoneUpdateCmd, p.cfg.Challenges.DNS01.ValidationDNSServers, p.cfg.Challenges.DNS01.Timeout())
		dns01Provider = dns01.NewProvider(dnsPub)
	}

	session, err := acmeclient.NewLegoSession(account, http01Provider, dns01Provider)
	if err != nil {
		return nil, err
	}

	driver := orderdriver.New(p.certsDir, session, p.httpSrv, dnsPub)
	p.drivers[acct.ID] = driver
	return driver, nil
}
