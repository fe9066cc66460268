package auth

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildACL(t *testing.T) {
	acl, err := BuildACL([]TopicAllocation{
		{Topic: "ingress/u1", Ingress: true},
		{Topic: "egress/u1"},
		{Topic: "setup", Ingress: true, All: true},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"ingress/u1"}, acl.Pub)
	assert.Equal(t, []string{"egress/u1"}, acl.Sub)
	assert.Equal(t, []string{"setup"}, acl.All)

	assert.True(t, acl.CanPublish("ingress/u1"))
	assert.False(t, acl.CanPublish("egress/u1"))
	assert.True(t, acl.CanSubscribe("egress/u1"))
	assert.True(t, acl.CanPublish("setup"))
	assert.True(t, acl.CanSubscribe("setup"))
}

func TestBuildACL_NotProvisioned(t *testing.T) {
	_, err := BuildACL(nil)
	assert.ErrorIs(t, err, ErrNotProvisioned)
}

func TestACL_JSONUsesEmptyLists(t *testing.T) {
	acl, err := BuildACL([]TopicAllocation{{Topic: "egress/u1"}})
	require.NoError(t, err)

	raw, err := json.Marshal(acl)
	require.NoError(t, err)
	assert.JSONEq(t, `{"pub":[],"sub":["egress/u1"],"all":[]}`, string(raw))
}
