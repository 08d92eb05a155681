package mongo

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultDBName     = "prtu-community"
	defaultCollection = "comments"
)

var ErrConfParamMissing = fmt.Errorf("configuration parameter missing")

type Config struct {
	URI        string
	Host       string
	Port       string
	DBName     string
	Collection string
	User       string
	Pass       string

	// ConnectTimeout bounds server selection and the initial ping.
	ConnectTimeout time.Duration
}

// NewConfig reads the connection settings from the environment. MONGODB_URI takes
// precedence over MONGO_HOST/MONGO_PORT.
func NewConfig() (*Config, error) {
	conf := new(Config)
	conf.URI = os.Getenv("MONGODB_URI")
	conf.Host = os.Getenv("MONGO_HOST")
	conf.Port = os.Getenv("MONGO_PORT")
	if conf.URI == "" {
		if conf.Host == "" {
			return nil, fmt.Errorf("%w: MONGODB_URI or MONGO_HOST", ErrConfParamMissing)
		}
		if conf.Port == "" {
			return nil, fmt.Errorf("%w: MONGO_PORT", ErrConfParamMissing)
		}
	}
	conf.DBName = os.Getenv("MONGO_DB_NAME")
	if conf.DBName == "" {
		conf.DBName = defaultDBName
	}
	conf.Collection = os.Getenv("MONGO_COLLECTION")
	if conf.Collection == "" {
		conf.Collection = defaultCollection
	}
	conf.User = os.Getenv("MONGO_USER")
	conf.Pass = os.Getenv("MONGO_PASS")
	conf.ConnectTimeout = 10 * time.Second

	return conf, nil
}

func (c *Config) conString() string {
	if c.URI != "" {
		return c.URI
	}
	if c.User != "" && c.Pass != "" {
		return fmt.Sprintf("mongodb://%s:%s@%s:%s/", c.User, c.Pass, c.Host, c.Port)
	}
	return fmt.Sprintf("mongodb://%s:%s/", c.Host, c.Port)
}

func (c *Config) Options() *options.ClientOptions {
	opts := options.Client().ApplyURI(c.conString()).SetMonitor(commandMonitor())
	if c.ConnectTimeout > 0 {
		opts.SetServerSelectionTimeout(c.ConnectTimeout)
	}
	return opts
}

func (c Config) String() string {
	c.Pass = strings.Repeat("*", len([]rune(c.Pass)))
	if c.URI != "" {
		c.URI = "<redacted>"
	}

	return fmt.Sprintf("%#v", c)
}
