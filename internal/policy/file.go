package policy

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	xerrors "PolicyGate-Chain/internal/errors"
)

// fileDocument 对应策略文件的顶层结构。
type fileDocument struct {
	Policies map[string]Policy `yaml:"policies"`
}

// FileSource 从 YAML 文件读取策略集合，引用即文件中的键。
// 文件在每次 Load 时重新读取，策略值本身仍然是不可变快照。
type FileSource struct {
	path string
}

// NewFileSource 构造 FileSource。
func NewFileSource(path string) (*FileSource, error) {
	if path == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "策略文件路径不能为空")
	}
	return &FileSource{path: path}, nil
}

// Load 实现 Source 接口。
func (s *FileSource) Load(_ context.Context, ref string) (Policy, error) {
	content, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Policy{}, xerrors.Wrap(CodePolicyNotFound, err, "策略文件不存在")
		}
		return Policy{}, xerrors.Wrap(CodePolicyUnreadable, err, "读取策略文件失败")
	}

	var doc fileDocument
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return Policy{}, xerrors.Wrap(CodePolicyUnreadable, err, "解析策略文件失败")
	}

	pol, ok := doc.Policies[ref]
	if !ok {
		return Policy{}, ErrPolicyNotFound
	}
	return pol, nil
}
