package nacos

import (
	"strconv"

	"usedtrade/logger"
	"usedtrade/tools/errs"

	"github.com/nacos-group/nacos-sdk-go/v2/vo"
)

// Naming is the part of the nacos naming client the registry needs.
type Naming interface {
	RegisterInstance(param vo.RegisterInstanceParam) (bool, error)
	DeregisterInstance(param vo.DeregisterInstanceParam) (bool, error)
}

// Registry announces this gateway node so load balancers can find the
// WebSocket endpoint.
type Registry struct {
	ServiceName string
	IP          string
	Port        uint64
	Group       string
	Metadata    map[string]string

	client Naming
}

func NewRegistry(client Naming, serviceName, ip string, port uint64) *Registry {
	return &Registry{
		ServiceName: serviceName,
		IP:          ip,
		Port:        port,
		Group:       "DEFAULT_GROUP",
		Metadata:    map[string]string{"protocol": "http"},
		client:      client,
	}
}

// WithNode records the node id, which is also the NATS relay origin.
func (r *Registry) WithNode(nodeID int64) *Registry {
	r.Metadata["node"] = strconv.FormatInt(nodeID, 10)
	return r
}

func (r *Registry) Register() error {
	ok, err := r.client.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          r.IP,
		Port:        r.Port,
		ServiceName: r.ServiceName,
		GroupName:   r.Group,
		ClusterName: "DEFAULT",
		Weight:      1,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
		Metadata:    r.Metadata,
	})
	if err != nil {
		return errs.WrapMsg(err, "nacos register", "service", r.ServiceName)
	}
	if !ok {
		return errs.New("nacos register returned false", "service", r.ServiceName)
	}
	logger.Infof("[Nacos] registered %s at %s:%d", r.ServiceName, r.IP, r.Port)
	return nil
}

func (r *Registry) Deregister() error {
	ok, err := r.client.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          r.IP,
		Port:        r.Port,
		ServiceName: r.ServiceName,
		GroupName:   r.Group,
		Cluster:     "DEFAULT",
		Ephemeral:   true,
	})
	if err != nil {
		return errs.WrapMsg(err, "nacos deregister", "service", r.ServiceName)
	}
	if !ok {
		logger.Warnf("[Nacos] instance %s:%d already gone", r.IP, r.Port)
	}
	return nil
}
