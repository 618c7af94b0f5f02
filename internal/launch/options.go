// Package launch turns user-toggled server settings into a validated
// command line for the gnatsd executable.
package launch

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"natsvisor/internal/validate"
)

// Field is one toggleable setting: whether the user enabled it and the raw
// text they entered.
type Field struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Value   string `json:"value" yaml:"value"`
}

// Request carries the raw toggle states and text values.
type Request struct {
	Host   Field `json:"host" yaml:"host"`
	Port   Field `json:"port" yaml:"port"`
	Log    Field `json:"log" yaml:"log"`
	Config Field `json:"config" yaml:"config"`
}

// Options holds only settings that passed validation. Unset fields are
// left out of the command line.
type Options struct {
	Host       string `json:"host,omitempty"`
	Port       *int   `json:"port,omitempty"`
	LogPath    string `json:"log_path,omitempty"`
	ConfigPath string `json:"config_path,omitempty"`
}

// Empty reports whether no setting survived validation.
func (o Options) Empty() bool {
	return o.Host == "" && o.Port == nil && o.LogPath == "" && o.ConfigPath == ""
}

// Args renders the options in fixed host, port, log, config order.
func (o Options) Args() []string {
	args := make([]string, 0, 8)
	if o.Host != "" {
		args = append(args, "-a", o.Host)
	}
	if o.Port != nil {
		args = append(args, "-p", strconv.Itoa(*o.Port))
	}
	if o.LogPath != "" {
		args = append(args, "-l", o.LogPath)
	}
	if o.ConfigPath != "" {
		args = append(args, "-c", o.ConfigPath)
	}
	return args
}

// Builder validates a Request against a storage root.
type Builder struct {
	// StorageRoot is where relative log and config names are resolved.
	StorageRoot string
	Logger      zerolog.Logger
}

// Build never fails: a field that is disabled or invalid is simply unset.
func (b *Builder) Build(req Request) Options {
	var opts Options

	if req.Host.Enabled {
		if validate.IsValidIPv4(req.Host.Value) {
			opts.Host = req.Host.Value
		} else {
			b.dropped("host", req.Host.Value, "not a valid IPv4 address")
		}
	}

	if req.Port.Enabled {
		if validate.IsValidPort(req.Port.Value) {
			port, _ := strconv.Atoi(req.Port.Value)
			opts.Port = &port
		} else {
			b.dropped("port", req.Port.Value, "not a valid port")
		}
	}

	if req.Log.Enabled {
		if req.Log.Value != "" {
			opts.LogPath = b.resolve(req.Log.Value)
		} else {
			b.dropped("log", req.Log.Value, "empty path")
		}
	}

	if req.Config.Enabled {
		switch {
		case req.Config.Value == "":
			b.dropped("config", req.Config.Value, "empty path")
		default:
			p := b.resolve(req.Config.Value)
			if _, err := os.Stat(p); err != nil {
				b.dropped("config", p, "file not found")
			} else {
				opts.ConfigPath = p
			}
		}
	}

	return opts
}

func (b *Builder) resolve(name string) string {
	return filepath.Join(b.StorageRoot, name)
}

func (b *Builder) dropped(field, value, reason string) {
	b.Logger.Warn().
		Str("field", field).
		Str("value", value).
		Str("reason", reason).
		Msg("Ignoring server setting")
}

// Build is a convenience for callers that do not need logging.
func Build(req Request, storageRoot string) Options {
	b := Builder{StorageRoot: storageRoot, Logger: zerolog.Nop()}
	return b.Build(req)
}
