package nacos

import (
	"sync"

	"usedtrade/logger"
	"usedtrade/tools/errs"

	"github.com/nacos-group/nacos-sdk-go/v2/vo"
)

// ConfigSource is the part of the nacos config client the watcher needs.
type ConfigSource interface {
	GetConfig(param vo.ConfigParam) (string, error)
	ListenConfig(param vo.ConfigParam) error
	CancelListenConfig(param vo.ConfigParam) error
}

// ApplyFunc receives every snapshot of the watched data id.
type ApplyFunc func(content []byte) error

// Watcher keeps a remote YAML document applied to the running process.
type Watcher struct {
	src    ConfigSource
	dataID string
	group  string
	apply  ApplyFunc

	mu      sync.RWMutex
	current string
}

func NewWatcher(src ConfigSource, dataID, group string, apply ApplyFunc) *Watcher {
	return &Watcher{src: src, dataID: dataID, group: group, apply: apply}
}

// Start applies the current snapshot and then every change. A failed apply
// is logged and the previous configuration stays in force.
func (w *Watcher) Start() error {
	content, err := w.src.GetConfig(vo.ConfigParam{DataId: w.dataID, Group: w.group})
	if err != nil {
		return errs.WrapMsg(err, "nacos get config", "dataId", w.dataID, "group", w.group)
	}
	w.update(content)

	err = w.src.ListenConfig(vo.ConfigParam{
		DataId: w.dataID,
		Group:  w.group,
		OnChange: func(namespace, group, dataId, data string) {
			logger.Infof("[Nacos] config changed namespace=%s group=%s dataId=%s", namespace, group, dataId)
			w.update(data)
		},
	})
	if err != nil {
		return errs.WrapMsg(err, "nacos listen config", "dataId", w.dataID)
	}
	return nil
}

func (w *Watcher) Stop() error {
	return errs.Wrap(w.src.CancelListenConfig(vo.ConfigParam{DataId: w.dataID, Group: w.group}))
}

func (w *Watcher) update(content string) {
	if content == "" {
		return
	}
	if err := w.apply([]byte(content)); err != nil {
		logger.Warnf("[Nacos] rejected config dataId=%s: %v", w.dataID, err)
		return
	}
	w.mu.Lock()
	w.current = content
	w.mu.Unlock()
}

// Current is the last snapshot that was applied successfully.
func (w *Watcher) Current() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}
