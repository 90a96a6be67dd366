package etcd

import (
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// NewClient connects to etcd. The client is shared by every component of
// the process and closed at shutdown.
func NewClient(endpoints []string, timeout time.Duration, logger *zap.Logger) (*clientv3.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: timeout,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	return cli, nil
}
