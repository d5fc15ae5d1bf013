package configuration

import (
	"os"
	"reflect"

	"gopkg.in/check.v1"
)

type testLocalConfiguration struct {
	Version Version           `yaml:"version"`
	Log     *testLog          `yaml:"log"`
	Extra   map[string]string `yaml:"extra,omitempty"`
}

type testLog struct {
	Formatter string `yaml:"formatter,omitempty"`
}

type ParserSuite struct{}

var _ = check.Suite(new(ParserSuite))

// TestParserOverwriteInitializedPointer validates that an environment
// variable overrides a field on a pointer struct the yaml document already
// initialized.
func (suite *ParserSuite) TestParserOverwriteInitializedPointer(c *check.C) {
	config := testLocalConfiguration{}

	os.Setenv("PATCHMAKER_LOG_FORMATTER", "json")
	defer os.Unsetenv("PATCHMAKER_LOG_FORMATTER")

	const testConfig = `version: "0.1"
log:
  formatter: "text"`

	p := NewParser("patchmaker", []VersionedParseInfo{
		{
			Version: "0.1",
			ParseAs: reflect.TypeOf(config),
			ConversionFunc: func(c interface{}) (interface{}, error) {
				return c, nil
			},
		},
	})

	err := p.Parse([]byte(testConfig), &config)
	c.Assert(err, check.IsNil)
	c.Assert(config, check.DeepEquals, testLocalConfiguration{Version: "0.1", Log: &testLog{Formatter: "json"}})
}

// TestParseOverwriteUninitializedMap validates that an environment variable
// can both replace a map field wholesale and add further keys to it by
// index, even when the yaml document left the field unset.
func (suite *ParserSuite) TestParseOverwriteUninitializedMap(c *check.C) {
	config := testLocalConfiguration{}

	os.Setenv("PATCHMAKER_EXTRA", "foo: bar")
	defer os.Unsetenv("PATCHMAKER_EXTRA")
	os.Setenv("PATCHMAKER_EXTRA_BAZ", "qux")
	defer os.Unsetenv("PATCHMAKER_EXTRA_BAZ")

	const testConfig = `version: "0.1"`

	p := NewParser("patchmaker", []VersionedParseInfo{
		{
			Version: "0.1",
			ParseAs: reflect.TypeOf(config),
			ConversionFunc: func(c interface{}) (interface{}, error) {
				return c, nil
			},
		},
	})

	err := p.Parse([]byte(testConfig), &config)
	c.Assert(err, check.IsNil)
	c.Assert(config, check.DeepEquals, testLocalConfiguration{
		Version: "0.1",
		Extra:   map[string]string{"foo": "bar", "baz": "qux"},
	})
}
