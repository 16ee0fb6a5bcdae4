package log_test

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/slok/devup/pkg/lib/log"
)

func TestNewLogrus(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.JSONFormatter{})

	logger := log.NewLogrus(l).WithValues(log.Kv{"svc": "test"})
	logger.Infof("hello %s", "world")

	assert.Contains(t, buf.String(), `"msg":"hello world"`)
	assert.Contains(t, buf.String(), `"svc":"test"`)
}
