// Package vsphere implements the remote inventory on top of vCenter: the SOAP
// API for entities and containment, the vAPI tagging service for tags.
package vsphere

import (
	"context"
	"fmt"
	"net/url"

	"github.com/kubev2v/vmtag-sync/internal/inventory"
	"github.com/vmware/govmomi/session"
	"github.com/vmware/govmomi/vapi/rest"
	"github.com/vmware/govmomi/vapi/tags"
	"github.com/vmware/govmomi/vim25"
	"github.com/vmware/govmomi/vim25/soap"
	"go.uber.org/zap"
)

type Credentials struct {
	URL      string
	Username string
	Password string
	Insecure bool
}

// Client is a logged in vCenter session. It carries no global state, every
// component receives it explicitly.
type Client struct {
	vim  *vim25.Client
	rest *rest.Client
	tags *tags.Manager
}

// Make sure we conform to Inventory interface
var _ inventory.Inventory = (*Client)(nil)

func New(vim *vim25.Client, rc *rest.Client) *Client {
	return &Client{vim: vim, rest: rc, tags: tags.NewManager(rc)}
}

// Connect logs into both the SOAP and the REST endpoints of the vCenter.
func Connect(ctx context.Context, creds Credentials) (*Client, error) {
	u, err := ParseURL(creds)
	if err != nil {
		return nil, err
	}

	vimClient, err := vim25.NewClient(ctx, soap.NewClient(u, creds.Insecure))
	if err != nil {
		return nil, inventory.NewErrRemoteUnavailable("connect", err)
	}

	zap.S().Named("vsphere").Infow("logging into vCenter", "url", u.Host, "username", creds.Username)
	if err := session.NewManager(vimClient).Login(ctx, u.User); err != nil {
		return nil, inventory.NewErrRemoteUnavailable("login", err)
	}

	rc := rest.NewClient(vimClient)
	if err := rc.Login(ctx, u.User); err != nil {
		_ = session.NewManager(vimClient).Logout(ctx)
		return nil, inventory.NewErrRemoteUnavailable("tagging service login", err)
	}

	return New(vimClient, rc), nil
}

// ParseURL adds the SOAP path when missing and the credentials as user info.
func ParseURL(creds Credentials) (*url.URL, error) {
	u, err := url.ParseRequestURI(creds.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid vCenter url %q: %w", creds.URL, err)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/sdk"
	}
	u.User = url.UserPassword(creds.Username, creds.Password)
	return u, nil
}

func (c *Client) Logout(ctx context.Context) error {
	if err := c.rest.Logout(ctx); err != nil {
		zap.S().Named("vsphere").Warnw("tagging service logout failed", "error", err)
	}
	c.vim.CloseIdleConnections()
	return session.NewManager(c.vim).Logout(ctx)
}
