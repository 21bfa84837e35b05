package schema

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"memsqltop/storage"
)

const versionQuery = "select @@memsql_version as v"

// Getter runs a single-row query. storage.Conn satisfies it.
type Getter interface {
	Get(ctx context.Context, query string) (storage.Row, error)
}

// ServerVersion reads and parses the version the server reports.
func ServerVersion(ctx context.Context, conn Getter) (*semver.Version, error) {
	row, err := conn.Get(ctx, versionQuery)
	if err != nil {
		return nil, errors.Wrap(err, "read server version")
	}
	raw := fmt.Sprint(row["v"])
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "parse server version %q", raw)
	}
	return v, nil
}

// Select returns the candidate with the highest minimum version not above
// server, bound to server.
func Select(server *semver.Version, candidates []*Profile) (*Profile, error) {
	if len(candidates) == 0 {
		return nil, errors.New("no schema profiles to choose from")
	}
	sorted := slices.Clone(candidates)
	slices.SortFunc(sorted, func(a, b *Profile) int {
		return b.MinVersion.Compare(a.MinVersion)
	})
	for _, p := range sorted {
		if !server.LessThan(p.MinVersion) {
			return p.Bind(server)
		}
	}
	oldest := sorted[len(sorted)-1].MinVersion
	return nil, errors.Mark(
		errors.Newf("memsql %s or above is required -- got %s", oldest.Original(), server.Original()),
		ErrUnsupportedVersion)
}

// Detect picks the profile for the connected server and runs its capability
// checks. A missing optional capability degrades the profile and logs a
// warning; a missing required one is an error.
func Detect(ctx context.Context, conn Getter, candidates []*Profile, log *zap.Logger) (*Profile, error) {
	server, err := ServerVersion(ctx, conn)
	if err != nil {
		return nil, err
	}
	p, err := Select(server, candidates)
	if err != nil {
		return nil, err
	}
	log.Info("schema profile selected",
		zap.String("server_version", server.Original()),
		zap.String("profile", p.Name))

	for _, c := range p.Required {
		on, err := probeCapability(ctx, conn, c)
		if err != nil {
			return nil, err
		}
		if !on {
			return nil, errors.WithHint(
				errors.Mark(errors.Newf("%s is required", c.Name), ErrMissingCapability),
				c.Hint)
		}
	}
	for _, c := range p.Optional {
		on, err := probeCapability(ctx, conn, c)
		if err != nil {
			return nil, err
		}
		if !on {
			log.Warn("cannot read optional counters, some columns will be blank",
				zap.String("capability", c.Name),
				zap.String("hint", c.Hint))
			p = p.Degrade(c.Degrades...)
		}
	}
	return p, nil
}

func probeCapability(ctx context.Context, conn Getter, c Capability) (bool, error) {
	row, err := conn.Get(ctx, c.Query)
	if err != nil {
		return false, errors.Wrapf(err, "probe %s", c.Name)
	}
	return truthy(row[c.Column]), nil
}

// truthy interprets a server variable as a boolean.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case int64:
		return t != 0
	case float64:
		return t != 0
	case []byte:
		return truthy(string(t))
	case string:
		switch strings.ToUpper(strings.TrimSpace(t)) {
		case "ON", "TRUE", "YES":
			return true
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return err == nil && f != 0
	default:
		return false
	}
}
