package network

import (
	"time"

	"github.com/busybox42/waypoint/pkg/protocol"
)

const (
	connTimeout       = 30 * time.Second
	maxMsgSize        = protocol.MaxBodySize + 64*1024 // body plus routes
	readTimeout       = 30 * time.Second
	writeTimeout      = 30 * time.Second
	keepAliveInterval = 5 * time.Second
	maxDatagramSize   = 65507
)
