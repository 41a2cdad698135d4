package farmer

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/gardenos/gardend/internal/errdefs"
)

// Published farmer build locations.
const (
	DefaultManifestURL = "https://builds.druid.garden/manifest.yaml"
	DefaultDownloadURL = "https://builds.druid.garden"
	downloadArtifact   = "ff_giga"
)

// Channel selects the update track.
type Channel string

const (
	ChannelRelease Channel = "release"
	ChannelBeta    Channel = "beta"
)

// Manifest is the remote descriptor of available farmer builds.
type Manifest struct {
	CurrentVersion string `yaml:"current_version"`
	BetaVersion    string `yaml:"beta_version,omitempty"`
	Date           string `yaml:"date,omitempty"`
	Author         string `yaml:"author,omitempty"`
}

// updateChannel reads the configured channel, defaulting to release on a
// missing or unrecognized value.
func (s *Supervisor) updateChannel() Channel {
	entry, err := s.settings.GetSetting(settingUpdateChannel)
	if err != nil || entry == nil {
		return ChannelRelease
	}
	switch strings.ToLower(entry.Value) {
	case string(ChannelBeta):
		return ChannelBeta
	case string(ChannelRelease):
		return ChannelRelease
	default:
		s.log.Warn("invalid farmer update channel", zap.String("value", entry.Value))
		return ChannelRelease
	}
}

// archToken maps the host architecture to its download-path token.
func archToken(goarch string) (string, error) {
	switch goarch {
	case "amd64":
		return "amd64", nil
	case "arm64":
		return "aarch64", nil
	default:
		return "", errdefs.New(errdefs.KindUnsupported, "unsupported platform %s for auto updates", goarch)
	}
}

// BinaryVersion runs path --version and parses the reported semver. The
// output may carry a leading label token. Returns nil when the binary is
// missing or its output is unparseable.
func BinaryVersion(path string) *semver.Version {
	out, err := exec.Command(path, "--version").Output()
	if err != nil {
		return nil
	}
	fields := strings.Fields(string(out))
	for i, f := range fields {
		if i > 1 {
			break
		}
		if v, err := semver.NewVersion(f); err == nil {
			return v
		}
	}
	return nil
}

func (s *Supervisor) fetchManifest() (*Manifest, error) {
	resp, err := s.client.Get(s.manifestURL)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindUnavailable, "farmer: fetch manifest", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errdefs.New(errdefs.KindUnavailable, "farmer: fetch manifest: unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindUnavailable, "farmer: read manifest", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(body, &m); err != nil {
		return nil, errdefs.Wrap(errdefs.KindUnavailable, "farmer: parse manifest", err)
	}
	return &m, nil
}

// targetVersion resolves the manifest version for the channel. Beta falls
// back to the release version when no beta build is published.
func targetVersion(m *Manifest, channel Channel) (*semver.Version, error) {
	raw := m.CurrentVersion
	if channel == ChannelBeta && m.BetaVersion != "" {
		raw = m.BetaVersion
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindUnavailable, "farmer: manifest version", err)
	}
	return v, nil
}

// EnsureInstalled updates the farmer if no binary is present at its path.
func (s *Supervisor) EnsureInstalled() error {
	if _, err := os.Stat(s.paths.Bin); err == nil {
		return nil
	}
	return s.Update()
}

// Update fetches the manifest and installs the channel's target version if
// the installed binary is older. All-or-nothing: any failing step leaves
// the previously installed binary live. The downloaded binary's
// self-reported version must match the target exactly or the swap is
// aborted.
func (s *Supervisor) Update() error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()
	// Resolve the platform before touching the network.
	arch, err := archToken(runtime.GOARCH)
	if err != nil {
		return err
	}
	s.log.Info("fetching farmer manifest")
	manifest, err := s.fetchManifest()
	if err != nil {
		return err
	}
	channel := s.updateChannel()
	target, err := targetVersion(manifest, channel)
	if err != nil {
		return err
	}
	if _, err := os.Stat(s.paths.Bin); err == nil {
		if installed := BinaryVersion(s.paths.Bin); installed != nil && !installed.LessThan(target) {
			s.log.Info("farmer already current",
				zap.String("installed", installed.String()),
				zap.String("target", target.String()))
			return nil
		}
	}
	s.log.Info("installing farmer",
		zap.String("channel", string(channel)),
		zap.String("version", target.String()))
	url := fmt.Sprintf("%s/%s/%s/%s", strings.TrimRight(s.downloadURL, "/"), target, arch, downloadArtifact)
	if err := s.download(url, s.paths.Download); err != nil {
		return err
	}
	if err := os.Chmod(s.paths.Download, 0755); err != nil {
		return errdefs.Wrap(errdefs.KindUnavailable, "farmer: set executable bit", err)
	}
	downloaded := BinaryVersion(s.paths.Download)
	if downloaded == nil {
		return errdefs.New(errdefs.KindUnavailable, "farmer: failed to read downloaded binary version")
	}
	if !downloaded.Equal(target) {
		return errdefs.New(errdefs.KindUnavailable,
			"farmer: downloaded binary reports %s, wanted %s", downloaded, target)
	}
	return s.swapBinaries()
}

func (s *Supervisor) download(url, dest string) error {
	s.log.Info("downloading farmer", zap.String("url", url), zap.String("dest", dest))
	resp, err := s.client.Get(url)
	if err != nil {
		return errdefs.Wrap(errdefs.KindUnavailable, "farmer: download", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errdefs.New(errdefs.KindUnavailable, "farmer: download: unexpected status %s", resp.Status)
	}
	out, err := os.Create(dest)
	if err != nil {
		return errdefs.Wrap(errdefs.KindUnavailable, "farmer: write download", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return errdefs.Wrap(errdefs.KindUnavailable, "farmer: write download", err)
	}
	return nil
}

// swapBinaries moves the verified download into place: drop any stale
// backup, rename the live binary to backup, copy the download in. Rename
// plus copy is as close to atomic as the platform allows.
func (s *Supervisor) swapBinaries() error {
	if _, err := os.Stat(s.paths.Backup); err == nil {
		_ = os.Remove(s.paths.Backup)
	}
	if _, err := os.Stat(s.paths.Bin); err == nil {
		if err := os.Rename(s.paths.Bin, s.paths.Backup); err != nil {
			return errdefs.Wrap(errdefs.KindUnavailable, "farmer: back up binary", err)
		}
	}
	src, err := os.Open(s.paths.Download)
	if err != nil {
		return errdefs.Wrap(errdefs.KindUnavailable, "farmer: open download", err)
	}
	defer src.Close()
	dst, err := os.OpenFile(s.paths.Bin, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0755)
	if err != nil {
		return errdefs.Wrap(errdefs.KindUnavailable, "farmer: install binary", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return errdefs.Wrap(errdefs.KindUnavailable, "farmer: install binary", err)
	}
	return nil
}
