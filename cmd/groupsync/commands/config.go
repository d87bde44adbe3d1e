package commands

import (
	"errors"

	"groupsync/lib/configutil"
	"groupsync/lib/llm"
	"groupsync/lib/platforms/douyin"
	"groupsync/lib/platforms/douyinweb"
	"groupsync/lib/platforms/feishu"
	"groupsync/lib/platforms/meituan"
	"groupsync/lib/sqliteutil"
	"groupsync/services/executor"
	"groupsync/services/reconcile"
	"groupsync/services/watch"
)

const defaultConfigName = "groupsync.json5"

type Config struct {
	Douyin    douyin.Options      `json:"douyin"`
	DouyinWeb douyinweb.Options   `json:"douyin_web"`
	Feishu    feishu.Options      `json:"feishu"`
	Meituan   meituan.Options     `json:"meituan"`
	LLM       llm.Config          `json:"llm"`
	Reconcile reconcile.Config    `json:"reconcile"`
	Executor  executor.Config     `json:"executor"`
	Database  sqliteutil.Config   `json:"database"`
	Report    executor.SmtpConfig `json:"report"`
	Watch     watch.Config        `json:"watch"`
}

func (c Config) WithDefaults() Config {
	c.LLM = c.LLM.WithDefaults()
	c.Reconcile = c.Reconcile.WithDefaults()
	c.Executor = c.Executor.WithDefaults()
	c.Watch = c.Watch.WithDefaults()
	if c.Database.File == "" && c.Database.Url == "" {
		c.Database.File = ".dev/groupsync.db"
	}
	return c
}

// Validate checks the sections every command depends on, platform
// credentials are checked when a client is first created.
func (c Config) Validate() error {
	return errors.Join(
		c.LLM.Validate(),
		c.Reconcile.Validate(),
		c.Executor.Validate(),
		c.Watch.Validate(),
	)
}

// webConfigured reports whether the recreate flow can be used at all.
func (c Config) webConfigured() bool {
	return c.DouyinWeb.Cookie != "" || c.DouyinWeb.CookieFile != ""
}

func loadConfig(path string) (Config, error) {
	config, err := configutil.Load[Config](path, defaultConfigName)
	if err != nil {
		return Config{}, err
	}
	config = config.WithDefaults()
	return config, config.Validate()
}
