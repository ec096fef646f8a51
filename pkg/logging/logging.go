package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the logging interface shared by all components. It is satisfied by
// both *logrus.Logger and *logrus.Entry, so components can be handed a logger
// scoped with component fields.
type Logger interface {
	logrus.FieldLogger
	Writer() *io.PipeWriter
}
