package ports_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/devup/internal/app/ports"
	"github.com/slok/devup/internal/log"
	"github.com/slok/devup/internal/model"
	"github.com/slok/devup/internal/storage/storagemock"
)

func TestNewService(t *testing.T) {
	tests := map[string]struct {
		config ports.ServiceConfig
		expErr bool
	}{
		"valid config should create service": {
			config: ports.ServiceConfig{
				ManifestRepository: &storagemock.MockManifestRepository{},
				Logger:             log.Noop,
			},
		},
		"missing manifest repository should fail": {
			config: ports.ServiceConfig{Logger: log.Noop},
			expErr: true,
		},
		"nil logger should default to noop": {
			config: ports.ServiceConfig{
				ManifestRepository: &storagemock.MockManifestRepository{},
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			svc, err := ports.NewService(test.config)

			if test.expErr {
				require.Error(err)
				require.Nil(svc)
			} else {
				require.NoError(err)
				require.NotNil(svc)
			}
		})
	}
}

func TestService_Run(t *testing.T) {
	web := model.PortSpec{Port: 8000, Policy: model.PortPolicyNotify, Label: "Django"}
	redis := model.PortSpec{Port: 6379, Policy: model.PortPolicyIgnore}
	docs := model.PortSpec{Port: 8080, Policy: model.PortPolicyNotify}
	notify := model.PortPolicyNotify

	tests := map[string]struct {
		manifest model.Manifest
		loadErr  error
		req      ports.Request
		expPorts []model.PortSpec
		expErr   bool
	}{
		"all the ports should be returned in declaration order": {
			manifest: model.Manifest{Ports: []model.PortSpec{web, redis, docs}},
			req:      ports.Request{ManifestPath: "devup.yaml"},
			expPorts: []model.PortSpec{web, redis, docs},
		},
		"filtering by policy should return only the matching ports": {
			manifest: model.Manifest{Ports: []model.PortSpec{web, redis, docs}},
			req:      ports.Request{ManifestPath: "devup.yaml", PolicyFilter: &notify},
			expPorts: []model.PortSpec{web, docs},
		},
		"a manifest without ports should return an empty table": {
			manifest: model.Manifest{},
			req:      ports.Request{ManifestPath: "devup.yaml"},
			expPorts: []model.PortSpec{},
		},
		"a manifest load error should fail": {
			loadErr: fmt.Errorf("something"),
			req:     ports.Request{ManifestPath: "devup.yaml"},
			expErr:  true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			m := &storagemock.MockManifestRepository{}
			m.On("GetManifest", mock.Anything, test.req.ManifestPath).Once().Return(test.manifest, test.loadErr)

			svc, err := ports.NewService(ports.ServiceConfig{ManifestRepository: m})
			require.NoError(err)

			table, err := svc.Run(context.Background(), test.req)

			if test.expErr {
				assert.Error(err)
			} else {
				require.NoError(err)
				assert.Equal(test.expPorts, table.All())
			}

			m.AssertExpectations(t)
		})
	}
}
