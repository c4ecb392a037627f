// Package ruby runs Ruby on a WASI build of CRuby.
package ruby

import (
	_ "embed"
	"time"

	"github.com/houyanchao/coderun/executor"
	"github.com/houyanchao/coderun/language"
	"github.com/houyanchao/coderun/language/wasi"
	"github.com/houyanchao/coderun/runner"
)

//go:embed prelude.rb
var prelude string

const DefaultTimeout = 30 * time.Second

var samples = runner.Samples{
	Placeholder: "# Write Ruby code here\nputs 'Hello, Ruby!'",
	Example: `class Animal
  attr_reader :name

  def initialize(name)
    @name = name
  end

  def to_s = "#{self.class.name.downcase} #{name}"
end

class Dog < Animal; end

pets = [Dog.new("Rex"), Animal.new("Generic")]
pets.each { |p| puts p }

(1..10).select(&:even?).map { |n| n * n }`,
}

func Module(path string) *wasi.Module {
	return &wasi.Module{
		ID:      language.Ruby,
		Path:    path,
		Argv:    []string{"ruby", "--disable-gems", "-e"},
		Prelude: prelude,
	}
}

func NewFactory(exec *executor.Executor, path string, opts ...executor.SessionOption) runner.Factory {
	return func(desc language.Descriptor, ro runner.Options) (runner.Runner, error) {
		return runner.NewSandboxed(desc, wasi.NewFactory(exec, Module(path), opts...), samples, DefaultTimeout, ro), nil
	}
}
