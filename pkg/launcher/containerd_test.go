package launcher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/warren/pkg/runid"
	"github.com/cuemby/warren/pkg/spec"
)

func TestBuildEnvIncludesAppAndRunnableIdentity(t *testing.T) {
	base := Env{AppDir: "hdfs://nn/apps/1", ZKConnect: "zk1:2181", LogBrokerConnect: "zk1:2181/kafka"}
	runID := runid.New().WithInstance(2)
	rt := spec.RuntimeSpec{Resource: spec.Resource{Instances: 3}}

	env := buildEnv(base, "echo", runID, rt)

	assert.Contains(t, env, "WEAVE_APP_DIR=hdfs://nn/apps/1")
	assert.Contains(t, env, "WEAVE_ZK_CONNECT=zk1:2181")
	assert.Contains(t, env, "WEAVE_LOG_KAFKA_ZK=zk1:2181/kafka")
	assert.Contains(t, env, "WEAVE_RUNNABLE_NAME=echo")
	assert.Contains(t, env, "WEAVE_RUN_ID="+runID.String())
	assert.Contains(t, env, "WEAVE_INSTANCE_COUNT=3")
}
