package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

const masterInfo = "# Replication\r\nrole:master\r\nconnected_slaves:1\r\n" +
	"master_replid:8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb\r\nmaster_repl_offset:120\r\n" +
	"\r\n# Keyspace\r\ndb0:keys=3,expires=1,avg_ttl=0\r\n"

func TestParseInfo(t *testing.T) {
	info := parseInfo(masterInfo)

	assert.Equal(t, ReplicationInfo{
		Role:            "master",
		ReplID:          "8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb",
		Offset:          120,
		ConnectedSlaves: 1,
	}, info.Replication)
	assert.Equal(t, KeyspaceInfo{0: {Keys: 3, Expires: 1}}, info.Keyspace)
}

func TestParseInfoWithoutAvgTTL(t *testing.T) {
	info := parseInfo("# Keyspace\ndb2:keys=5,expires=0\n")
	assert.Equal(t, KeyspaceInfo{2: {Keys: 5}}, info.Keyspace)
	assert.Empty(t, info.Replication.Role)
}

func TestCompareNodes(t *testing.T) {
	master := parseInfo(masterInfo)

	tests := []struct {
		name    string
		replica string
		filter  map[int]bool
		want    int
		output  string
	}{
		{
			name: "in sync",
			replica: "# Replication\r\nrole:slave\r\nmaster_replid:8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb\r\n" +
				"master_repl_offset:120\r\n# Keyspace\r\ndb0:keys=3,expires=1,avg_ttl=0\r\n",
			want:   0,
			output: "SUCCESS",
		},
		{
			name: "lagging replica",
			replica: "role:slave\r\nmaster_replid:8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb\r\n" +
				"master_repl_offset:100\r\ndb0:keys=3,expires=1,avg_ttl=0\r\n",
			want:   0,
			output: "20 bytes behind",
		},
		{
			name:    "different replid",
			replica: "role:slave\r\nmaster_replid:0000000000000000000000000000000000000000\r\nmaster_repl_offset:120\r\ndb0:keys=3,expires=1\r\n",
			want:    1,
			output:  "master_replid differs",
		},
		{
			name:    "missing keys",
			replica: "role:slave\r\nmaster_replid:8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb\r\nmaster_repl_offset:120\r\n",
			want:    1,
			output:  "Missing in REPLICA",
		},
		{
			name:    "filtered database",
			replica: "role:slave\r\nmaster_replid:8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb\r\nmaster_repl_offset:120\r\n",
			filter:  map[int]bool{1: true},
			want:    0,
		},
		{
			name:    "replica ahead and wrong role",
			replica: "role:master\r\nmaster_replid:8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb\r\nmaster_repl_offset:130\r\ndb0:keys=3,expires=1\r\n",
			want:    2,
			output:  "ahead of MASTER",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got := compareNodes(&out, master, parseInfo(tt.replica), tt.filter)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), tt.output)
		})
	}
}
