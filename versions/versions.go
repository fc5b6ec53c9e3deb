package versions

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"airgap-bundler/bundle"
	"airgap-bundler/pull"

	"github.com/Yui100901/MyGo/log_utils"
	"github.com/joho/godotenv"
)

//
// @Author yfy2001
// @Date 2026/2/5 10 08
//

// 行首的KEY=，兼容可选的export前缀
var keyLineRe = regexp.MustCompile(`^\s*(?:export\s+)?([A-Za-z_][A-Za-z0-9_]*)\s*=`)

// Collect 从声明式环境文件中收集镜像列表：
// 取所有名字以_IMAGE结尾的变量，按首次出现顺序去重，丢弃空值。
// 先整体做语法校验，再取值，避免解析到一半出错留下残缺结果。
func Collect(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取versions文件 %s 失败: %w", path, err)
	}

	// 语法校验与取值一次完成；godotenv返回map，顺序由下面的行扫描恢复
	values, err := godotenv.Parse(strings.NewReader(string(data)))
	if err != nil {
		return nil, fmt.Errorf("versions文件 %s 语法错误: %w", path, err)
	}

	var images []string
	seen := make(map[string]struct{})
	for _, line := range strings.Split(string(data), "\n") {
		match := keyLineRe.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		key := match[1]
		if !strings.HasSuffix(key, "_IMAGE") {
			continue
		}
		value := values[key]
		if value == "" {
			continue
		}
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		images = append(images, value)
	}
	return images, nil
}

// CreateBundle 便捷组合：收集镜像→断言非空→委托捆绑包创建
func CreateBundle(dir, versionsFile string, opts bundle.CreateOptions) error {
	images, err := Collect(versionsFile)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return fmt.Errorf("%w: %s中没有*_IMAGE变量", pull.ErrNoImages, versionsFile)
	}
	log_utils.Info.Println("从versions文件收集到镜像", images)
	opts.Images = images
	opts.VersionsFile = versionsFile
	return bundle.Create(dir, opts)
}
