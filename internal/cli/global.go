package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/kubev2v/vmtag-sync/internal/config"
	"github.com/kubev2v/vmtag-sync/internal/inventory/vsphere"
	"github.com/kubev2v/vmtag-sync/internal/store"
	"github.com/kubev2v/vmtag-sync/pkg/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thoas/go-funk"
)

var legalDBTypes = []string{"sqlite", "pgsql"}

type GlobalOptions struct {
	Config *config.Config

	configErr error
	closeLog  func()
}

func DefaultGlobalOptions() GlobalOptions {
	cfg, err := config.New()
	if err != nil {
		cfg = config.NewDefault()
	}
	return GlobalOptions{
		Config:    cfg,
		configErr: err,
	}
}

func (o *GlobalOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.Config.Service.LogLevel, "log-level", o.Config.Service.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&o.Config.Database.Type, "db-type", o.Config.Database.Type, fmt.Sprintf("Run history database. One of: (%s).", strings.Join(legalDBTypes, ", ")))
	fs.StringVar(&o.Config.Database.Name, "db-name", o.Config.Database.Name, "Run history database name, the file path for sqlite")
}

// BindVsphere adds the vCenter connection flags. The password is only read
// from the environment so it never shows up in the process list.
func (o *GlobalOptions) BindVsphere(fs *pflag.FlagSet) {
	fs.StringVar(&o.Config.Vsphere.URL, "url", o.Config.Vsphere.URL, "vCenter url")
	fs.StringVarP(&o.Config.Vsphere.Username, "username", "u", o.Config.Vsphere.Username, "vCenter username")
	fs.BoolVar(&o.Config.Vsphere.Insecure, "insecure", o.Config.Vsphere.Insecure, "Skip vCenter certificate verification")
}

func (o *GlobalOptions) Complete(cmd *cobra.Command, args []string) error {
	if o.configErr != nil {
		return fmt.Errorf("reading configuration from environment: %w", o.configErr)
	}
	_, closeLog, err := log.Setup(o.Config.Service.LogLevel)
	if err != nil {
		return err
	}
	o.closeLog = closeLog
	return nil
}

func (o *GlobalOptions) Validate(args []string) error {
	if !funk.Contains(legalDBTypes, o.Config.Database.Type) {
		return fmt.Errorf("db type must be one of %s", strings.Join(legalDBTypes, ", "))
	}
	return nil
}

// Close flushes the logger.
func (o *GlobalOptions) Close() {
	if o.closeLog != nil {
		o.closeLog()
	}
}

func (o *GlobalOptions) validateVsphere() error {
	if o.Config.Vsphere.URL == "" {
		return fmt.Errorf("vCenter url is required, use --url or VMTAG_SYNC_VSPHERE_URL")
	}
	if o.Config.Vsphere.Username == "" {
		return fmt.Errorf("vCenter username is required, use --username or VMTAG_SYNC_VSPHERE_USERNAME")
	}
	return nil
}

func (o *GlobalOptions) connect(ctx context.Context) (*vsphere.Client, error) {
	return vsphere.Connect(ctx, vsphere.Credentials{
		URL:      o.Config.Vsphere.URL,
		Username: o.Config.Vsphere.Username,
		Password: o.Config.Vsphere.Password,
		Insecure: o.Config.Vsphere.Insecure,
	})
}

func (o *GlobalOptions) openStore(ctx context.Context) (store.Store, error) {
	db, err := store.InitDB(o.Config)
	if err != nil {
		return nil, fmt.Errorf("opening run history: %w", err)
	}
	s := store.NewStore(db)
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrating run history: %w", err)
	}
	return s, nil
}
