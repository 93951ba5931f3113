/*
Copyright 2022 The Numaproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads the engine configuration file and keeps it current
// while the engine runs.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"
	"github.com/spf13/viper"

	dfv1 "github.com/numaproj/deltaflow/pkg/apis/dataflow/v1alpha1"
	"github.com/numaproj/deltaflow/pkg/shared/util"
)

// GlobalConfig holds the engine configuration read from a file. The file is
// watched and reloaded on change; only the soft tunables are meant to be
// picked up by a running pipeline.
type GlobalConfig struct {
	conf      *dfv1.EngineConfig
	lock      *sync.RWMutex
	listeners []func(dfv1.EngineConfig)
}

// GetEngineConfig returns the current configuration with defaults applied.
func (g *GlobalConfig) GetEngineConfig() dfv1.EngineConfig {
	g.lock.RLock()
	defer g.lock.RUnlock()
	return g.conf.WithDefaults()
}

// OnChange registers a function called with the new configuration after
// every successful reload.
func (g *GlobalConfig) OnChange(fn func(dfv1.EngineConfig)) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.listeners = append(g.listeners, fn)
}

func (g *GlobalConfig) set(conf *dfv1.EngineConfig) {
	g.lock.Lock()
	g.conf = conf
	listeners := append([]func(dfv1.EngineConfig){}, g.listeners...)
	g.lock.Unlock()
	for _, fn := range listeners {
		fn(conf.WithDefaults())
	}
}

// decode goes through JSON so the json tags and duration strings of the api
// types apply. Viper lowercases keys, which JSON decoding tolerates.
func decode(v *viper.Viper) (*dfv1.EngineConfig, error) {
	data, err := json.Marshal(v.AllSettings())
	if err != nil {
		return nil, err
	}
	conf := &dfv1.EngineConfig{}
	if err := json.Unmarshal(data, conf); err != nil {
		return nil, err
	}
	return conf, nil
}

// envOverrides applies the settings given as environment variables.
func envOverrides(conf *dfv1.EngineConfig) error {
	env := viper.New()
	env.SetEnvPrefix(dfv1.EnvPrefix)
	env.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range []string{"workers", "checkpoint.store", "checkpoint.path", "checkpoint.redis_url", "checkpoint.disabled"} {
		if err := env.BindEnv(key); err != nil {
			return err
		}
	}
	if env.IsSet("workers") {
		conf.Workers = env.GetInt("workers")
	}
	if env.IsSet("checkpoint.store") {
		conf.Checkpoint.Store = dfv1.CheckpointStoreType(env.GetString("checkpoint.store"))
	}
	if env.IsSet("checkpoint.path") {
		conf.Checkpoint.Path = env.GetString("checkpoint.path")
	}
	if env.IsSet("checkpoint.redis_url") {
		conf.Checkpoint.RedisURL = env.GetString("checkpoint.redis_url")
	}
	if env.IsSet("checkpoint.disabled") {
		conf.Checkpoint.Disabled = env.GetBool("checkpoint.disabled")
	}
	return nil
}

func load(v *viper.Viper) (*dfv1.EngineConfig, error) {
	conf, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := envOverrides(conf); err != nil {
		return nil, err
	}
	return conf, nil
}

// LoadConfig reads the configuration file at path, or at $DELTAFLOW_CONFIG
// when path is empty. A few settings can be
// overridden by environment variables: DELTAFLOW_WORKERS,
// DELTAFLOW_CHECKPOINT_STORE, DELTAFLOW_CHECKPOINT_PATH,
// DELTAFLOW_CHECKPOINT_REDIS_URL and DELTAFLOW_CHECKPOINT_DISABLED.
func LoadConfig(path string, onErrorReloading func(error)) (*GlobalConfig, error) {
	if path == "" {
		if path = util.LookupEnvStringOr(dfv1.EnvConfigPath, ""); path == "" {
			return nil, fmt.Errorf("no configuration file given and %s is not set", dfv1.EnvConfigPath)
		}
	}
	v := viper.New()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration file. %w", err)
	}
	conf, err := load(v)
	if err != nil {
		return nil, fmt.Errorf("failed unmarshal configuration file. %w", err)
	}
	r := &GlobalConfig{conf: conf, lock: new(sync.RWMutex)}
	v.OnConfigChange(func(e fsnotify.Event) {
		cf, err := load(v)
		if err != nil {
			onErrorReloading(err)
			return
		}
		r.set(cf)
	})
	v.WatchConfig()
	return r, nil
}
