package malja

import (
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/martian/mitm"
	"github.com/tfkr-ae/malja/core"
	"github.com/tfkr-ae/malja/offline"
	"github.com/tfkr-ae/malja/script"
)

// WithOptions applies a series of configuration functions to the proxy instance.
// It returns the first error encountered from any option function
func (proxy *Proxy) WithOptions(options ...func(*Proxy) error) error {
	for _, option := range options {
		err := option(proxy)
		if err != nil {
			return fmt.Errorf("applying option on malja : %w", err)
		}
	}
	return nil
}

// WithConfigDir loads config.yaml from appConfigDir, creating the directory and the file if needed, and applies it
func WithConfigDir(appConfigDir string) func(*Proxy) error {
	return func(proxy *Proxy) error {
		cfg, err := LoadConfig(appConfigDir)
		if err != nil {
			return fmt.Errorf("loading config from %s : %w", appConfigDir, err)
		}
		return WithConfig(cfg)(proxy)
	}
}

// WithConfig applies cfg to the proxy: listener address, origin, scope rules and the optional scope script
func WithConfig(cfg *Config) func(*Proxy) error {
	return func(proxy *Proxy) error {
		if cfg == nil {
			return errors.New("config is nil")
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("validating config : %w", err)
		}
		origin, err := cfg.OriginURL()
		if err != nil {
			return fmt.Errorf("parsing origin %s : %w", cfg.Origin, err)
		}
		scope, err := NewScopeFromConfig(cfg.Scope, origin.Host)
		if err != nil {
			return fmt.Errorf("building scope : %w", err)
		}

		proxy.Config = cfg
		proxy.ConfigDir = cfg.ConfigDir
		proxy.Addr = cfg.ListenAddress
		proxy.Port = cfg.ListenPort
		proxy.Origin = origin
		proxy.Scope = scope

		if cfg.ScriptPath != "" {
			return WithScript(cfg.ScriptPath)(proxy)
		}
		return nil
	}
}

// WithLogger sets the structured logger, a nil logger keeps a default one
func WithLogger(logger *slog.Logger) func(*Proxy) error {
	return func(proxy *Proxy) error {
		if logger == nil {
			logger = defaultLogger()
		}
		proxy.Logger = logger
		return nil
	}
}

// WithRepo sets the repository, closing the previous one if there was one
func WithRepo(repo Repository) func(*Proxy) error {
	return func(proxy *Proxy) error {
		if proxy.Repo != nil {
			if err := proxy.Repo.Close(); err != nil {
				return fmt.Errorf("closing previous repository : %w", err)
			}
			proxy.Repo = nil
		}
		proxy.Repo = repo
		return nil
	}
}

// WithStorage replaces the repository backed cache storage used by the worker
func WithStorage(storage offline.Storage) func(*Proxy) error {
	return func(proxy *Proxy) error {
		proxy.storage = storage
		return nil
	}
}

// WithBaseTransport replaces the utls transport used for upstream requests and install fetches
func WithBaseTransport(transport http.RoundTripper) func(*Proxy) error {
	return func(proxy *Proxy) error {
		if transport == nil {
			return errors.New("base transport is nil")
		}
		proxy.baseTransport = transport
		return nil
	}
}

// WithScript loads the Lua scope script at path
func WithScript(path string) func(*Proxy) error {
	return func(proxy *Proxy) error {
		filter, err := script.Load(path, proxy.Logger)
		if err != nil {
			return fmt.Errorf("loading scope script : %w", err)
		}
		proxy.Script = filter
		return nil
	}
}

// WithDefaultModifiers registers the request and response pipeline
func WithDefaultModifiers() func(*Proxy) error {
	return func(proxy *Proxy) error {
		proxy.AddRequestModifier(PreventLoopModifier)
		proxy.AddRequestModifier(SkipConnectRequestModifier)
		proxy.AddRequestModifier(SetupRequestModifier)
		proxy.AddRequestModifier(ScopeRequestModifier)

		proxy.AddResponseModifier(ResponseFilterModifier)
		proxy.AddResponseModifier(LogResponseModifier)
		return nil
	}
}

// syncSPKI stores proxy.SPKIHash, warning when it replaces the hash of a different certificate
func (proxy *Proxy) syncSPKI() error {
	stored, err := proxy.Repo.GetSPKI()
	if err != nil {
		return fmt.Errorf("getting stored spki hash : %w", err)
	}
	if stored == proxy.SPKIHash {
		return nil
	}
	if stored != "" {
		proxy.Logger.Warn("certificate changed, clients trusting the previous CA must import the new one", "previous", stored, "spki", proxy.SPKIHash)
		proxy.WriteLog("WARN", "certificate changed", core.LogWithContext(map[string]any{"previous": stored, "spki": proxy.SPKIHash}))
	}
	if err := proxy.Repo.UpdateSPKI(proxy.SPKIHash); err != nil {
		return fmt.Errorf("setting spki hash %s : %w", proxy.SPKIHash, err)
	}
	return nil
}

// WithTLS loads the CA from proxy.ConfigDir or creates a new one, and configures MITM with it.
// The SPKI hash is stored in the repository when there is one
func WithTLS() func(*Proxy) error {
	return func(proxy *Proxy) error {
		if proxy.ConfigDir == "" {
			return errors.New("config dir is not set")
		}

		var x509c *x509.Certificate
		var priv any
		exists, err := certExists(proxy.ConfigDir)
		if err != nil {
			return fmt.Errorf("checking certificate : %w", err)
		}
		if !exists {
			proxy.Logger.Info("certificate does not exist, creating a new one", "dir", proxy.ConfigDir)
			x509c, priv, err = mitm.NewAuthority("malja", "malja Authority", 365*3*24*time.Hour)
			if err != nil {
				return fmt.Errorf("creating new mitm authority : %w", err)
			}
			if err := saveCertAndKey(x509c, priv, proxy.ConfigDir); err != nil {
				return fmt.Errorf("saving cert and key to disk : %w", err)
			}
		} else {
			x509c, priv, err = loadCertAndKey(proxy.ConfigDir)
			if err != nil {
				return fmt.Errorf("loading cert and key from disk : %w", err)
			}
		}

		proxy.SPKIHash = getSPKIHash(x509c)
		proxy.Cert = x509c
		proxy.Logger.Info("certificate loaded", "spki", proxy.SPKIHash, "expires", x509c.NotAfter)
		if proxy.Repo != nil {
			if err := proxy.syncSPKI(); err != nil {
				return err
			}
		}

		tlsc, err := mitm.NewConfig(x509c, priv)
		if err != nil {
			return fmt.Errorf("creating new mitm config : %w", err)
		}
		proxy.martianProxy.SetMITM(tlsc)
		tlsConfig := tlsc.TLS()

		systemPool, err := x509.SystemCertPool()
		if err != nil {
			return fmt.Errorf("fetching system cert pool : %w", err)
		}
		tlsConfig.RootCAs = systemPool
		tlsConfig.RootCAs.AddCert(x509c)
		proxy.TLSConfig = tlsConfig
		return nil
	}
}
