package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/ftphandler/ftp-handler/internal/config"
	"github.com/ftphandler/ftp-handler/internal/constants"
	"github.com/ftphandler/ftp-handler/internal/events"
	"github.com/ftphandler/ftp-handler/internal/logging"
	"github.com/ftphandler/ftp-handler/internal/metrics"
	"github.com/ftphandler/ftp-handler/internal/session"
	"github.com/ftphandler/ftp-handler/internal/transport"
	"github.com/ftphandler/ftp-handler/internal/transport/ftpclient"
)

// overrides are the connection flags given on the command line. Zero values
// leave the profile untouched.
type overrides struct {
	Host     string
	Port     int
	User     string
	Password string
	TLS      string
}

func flagOverrides() overrides {
	return overrides{
		Host:     flagHost,
		Port:     flagPort,
		User:     flagUser,
		Password: flagPass,
		TLS:      flagTLS,
	}
}

// apply copies the non-empty overrides into p.
func (o overrides) apply(p *config.Profile) {
	if o.Host != "" {
		p.Server.Host = o.Host
	}
	if o.Port != 0 {
		p.Server.Port = o.Port
	}
	if o.User != "" {
		// A password stored for another account is useless.
		if o.User != p.Server.User {
			p.Server.Password = ""
		}
		p.Server.User = o.User
	}
	if o.Password != "" {
		p.Server.Password = o.Password
	}
	if o.TLS != "" {
		p.Server.TLS = strings.ToLower(o.TLS)
	}
}

// loadProfile reads the profile named by --config and applies the flag
// overrides.
func loadProfile() (*config.Profile, error) {
	profile, err := config.LoadProfile(cfgFile)
	if err != nil {
		return nil, err
	}
	flagOverrides().apply(profile)
	return profile, nil
}

// ensurePassword prompts for the password without echo when a named user
// has none and stdin is a terminal.
func ensurePassword(p *config.Profile) error {
	if p.Server.User == "" || p.Server.Password != "" {
		return nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	fmt.Fprintf(os.Stderr, "Password for %s@%s: ", p.Server.User, p.Server.Host)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	p.Server.Password = string(pw)
	return nil
}

// connection is a connected session plus the background work the CLI runs
// next to it.
type connection struct {
	sess    *session.Session
	profile *config.Profile
	root    []transport.Entry
	stop    context.CancelFunc
}

// connectFromFlags builds a session from the profile and flags and connects.
func connectFromFlags(ctx context.Context) (*connection, error) {
	log := GetLogger()
	profile, err := loadProfile()
	if err != nil {
		return nil, err
	}
	if !verbose {
		logging.SetGlobalLevel(logging.ParseLevel(profile.Logging.Level))
	}
	if err := ensurePassword(profile); err != nil {
		return nil, err
	}
	dialer := ftpclient.NewDialer(ftpclient.Options{
		Timeout:       profile.Timeout(),
		TLS:           profile.Server.TLS,
		TLSSkipVerify: profile.Server.TLSSkipVerify,
		Logger:        log,
	})
	return openConnection(ctx, profile, dialer, metricsAddr, log)
}

// openConnection creates the session, starts the metrics endpoint when addr
// is set, and connects.
func openConnection(ctx context.Context, profile *config.Profile, dialer transport.Dialer, addr string, log *logging.Logger) (*connection, error) {
	bus := events.NewEventBus(constants.EventBusDefaultBuffer)
	sess, err := session.New(session.Options{
		Profile: profile,
		Dialer:  dialer,
		Bus:     bus,
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}

	bgCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	c := &connection{sess: sess, profile: profile, stop: stop}

	if addr != "" {
		collector := metrics.NewCollector()
		collector.TrackDrops(bus)
		go collector.Run(bgCtx, bus.SubscribeAll())
		if _, err := collector.Serve(bgCtx, addr, log); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	root, err := sess.Connect(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.root = root
	return c, nil
}

// Close disconnects, stops background work and closes the event stream.
func (c *connection) Close() {
	if err := c.sess.Close(); err != nil {
		GetLogger().Debug().Err(err).Msg("disconnect")
	}
	c.stop()
	c.sess.Events().Close()
}
