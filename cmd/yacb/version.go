package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/zivhm/yacb/internal/config"
)

// Build info - set via ldflags at build time:
//
//	go build -ldflags "-X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ) -X main.gitCommit=$(git rev-parse --short HEAD)"
var (
	buildTime = "unknown"
	gitCommit = "unknown"
)

// VersionInfo is what 'yacb version' prints
type VersionInfo struct {
	Version   string
	GoVersion string
	BuildTime string
	GitCommit string
	Platform  string
	Features  []string
}

func GetVersionInfo() *VersionInfo {
	return &VersionInfo{
		Version:   version,
		GoVersion: runtime.Version(),
		BuildTime: buildTime,
		GitCommit: gitCommit,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		Features:  detectEnabledFeatures(configPath),
	}
}

// detectEnabledFeatures lists the optional features the config turns on
func detectEnabledFeatures(path string) []string {
	features := []string{}

	cfg, err := config.Load(path)
	if err != nil {
		return features
	}

	if cfg.Channels.Telegram.Enabled {
		features = append(features, "telegram")
	}
	if cfg.Channels.Discord.Enabled {
		features = append(features, "discord")
	}
	if cfg.TierRouter.Enabled {
		features = append(features, "tier-router")
	}
	if cfg.TierRouter.Classifier.Enabled {
		features = append(features, "classifier")
	}
	if cfg.Tools.Exec.Enabled {
		features = append(features, "exec")
	}
	if cfg.Tools.Web.Enabled {
		features = append(features, "web")
	}
	if cfg.Tools.Search.APIKey != "" {
		features = append(features, "web-search")
	}
	if cfg.Heartbeat.Enabled {
		features = append(features, "heartbeat")
	}

	return features
}

func (v *VersionInfo) String() string {
	features := "(none enabled)"
	if len(v.Features) > 0 {
		features = strings.Join(v.Features, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "yacb v%s\n", v.Version)
	for _, row := range [][2]string{
		{"Go", v.GoVersion},
		{"Platform", v.Platform},
		{"Build", v.BuildTime},
		{"Commit", v.GitCommit},
		{"Features", features},
	} {
		fmt.Fprintf(&b, "  %-9s %s\n", row[0]+":", row[1])
	}
	return b.String()
}
