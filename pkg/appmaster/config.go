package appmaster

import (
	"fmt"
	"os"
	"strconv"

	"github.com/cuemby/warren/pkg/log"
)

const defaultReservedMemoryMB = 200

// Config is the AM's startup configuration, populated from the
// environment variables spec §6 enumerates. Nothing here is read twice:
// ConfigFromEnv is called once at process start, the same way the
// teacher's cmd/warren reads its cobra flags once in initLogging/main.
type Config struct {
	AppDir           string
	AppRunID         string
	FSUser           string
	ZKConnect        string
	LogKafkaZK       string
	ReservedMemoryMB int

	YarnAppID            string
	YarnAppIDClusterTime string
	YarnContainerVCores  int
	YarnContainerMemory  int
	YarnContainerHost    string

	// ResourceManagerAddr is the grpc dial target for pkg/rmclient. It is
	// not one of spec §6's named variables (the spec treats resource
	// manager discovery as part of YARN_* plumbing it doesn't detail);
	// WEAVE_RM_ADDR is this repository's concrete realization of that gap.
	ResourceManagerAddr string

	// ContainerdSocket is the launcher's containerd endpoint. Like
	// ResourceManagerAddr, this is infrastructure spec §6 doesn't name a
	// variable for; WEAVE_CONTAINERD_SOCKET fills the gap.
	ContainerdSocket string

	// CredentialKey is the raw key material for the credential cache
	// (pkg/credentials): used verbatim when exactly 32 bytes long, otherwise
	// folded through SHA-256 into a 32-byte AES-256-GCM key (see
	// credentialKey). spec §6 doesn't name this either since key
	// management is delegated to the filesystem abstraction; this
	// repository reads it from WEAVE_CREDENTIAL_KEY as a stand-in.
	CredentialKey string
}

// ConfigFromEnv reads the environment variables spec §6 names plus
// WEAVE_RM_ADDR, WEAVE_CONTAINERD_SOCKET and WEAVE_CREDENTIAL_KEY. The only
// default applied is ReservedMemoryMB's 200; WEAVE_APP_DIR and
// WEAVE_APP_RUN_ID are required.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		AppDir:           os.Getenv("WEAVE_APP_DIR"),
		AppRunID:         os.Getenv("WEAVE_APP_RUN_ID"),
		FSUser:           os.Getenv("WEAVE_FS_USER"),
		ZKConnect:        os.Getenv("WEAVE_ZK_CONNECT"),
		LogKafkaZK:       os.Getenv("WEAVE_LOG_KAFKA_ZK"),
		ReservedMemoryMB: defaultReservedMemoryMB,

		YarnAppID:            os.Getenv("YARN_APP_ID"),
		YarnAppIDClusterTime: os.Getenv("YARN_APP_ID_CLUSTER_TIME"),
		YarnContainerHost:    os.Getenv("YARN_CONTAINER_HOST"),

		ResourceManagerAddr: os.Getenv("WEAVE_RM_ADDR"),
		ContainerdSocket:    os.Getenv("WEAVE_CONTAINERD_SOCKET"),
		CredentialKey:       os.Getenv("WEAVE_CREDENTIAL_KEY"),
	}

	if v := os.Getenv("WEAVE_RESERVED_MEMORY_MB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse WEAVE_RESERVED_MEMORY_MB: %w", err)
		}
		cfg.ReservedMemoryMB = n
	}
	if v := os.Getenv("YARN_CONTAINER_VCORES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse YARN_CONTAINER_VCORES: %w", err)
		}
		cfg.YarnContainerVCores = n
	}
	if v := os.Getenv("YARN_CONTAINER_MEMORY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse YARN_CONTAINER_MEMORY: %w", err)
		}
		cfg.YarnContainerMemory = n
	}

	if cfg.AppDir == "" {
		return Config{}, fmt.Errorf("appmaster: WEAVE_APP_DIR is required")
	}
	if cfg.AppRunID == "" {
		return Config{}, fmt.Errorf("appmaster: WEAVE_APP_RUN_ID is required")
	}

	log.WithComponent("appmaster").Debug().Str("app_run_id", cfg.AppRunID).Msg("config loaded from environment")
	return cfg, nil
}
