package bundle

import (
	"fmt"
	"os"
	"path/filepath"

	"airgap-bundler/checksum"
	"airgap-bundler/engine"

	"github.com/Yui100901/MyGo/log_utils"
)

//
// @Author yfy2001
// @Date 2026/2/3 09 40
//

// Verify 校验捆绑包：归档校验和必须存在且匹配，
// 再逐一检查清单列出的镜像是否存在于本地镜像库。
// 全部镜像都会被检查，返回缺失数量；缺失大于0时返回错误。
func Verify(dir string, rt engine.Client) (int, error) {
	if rt == nil {
		return 0, fmt.Errorf("%w: 未指定容器运行时", engine.ErrNotAvailable)
	}

	m, err := ReadManifest(dir)
	if err != nil {
		return 0, err
	}
	archivePath := filepath.Join(dir, m.ArchiveName())

	// verify是专门的完整性检查入口，伴随文件缺失按硬失败处理
	if _, err := os.Stat(archivePath + checksum.Suffix); err != nil {
		return 0, fmt.Errorf("归档缺少校验和文件 %s: %w", archivePath+checksum.Suffix, err)
	}
	if !checksum.Verify(archivePath) {
		return 0, fmt.Errorf("归档 %s %w", archivePath, checksum.ErrMismatch)
	}
	log_utils.Info.Println("归档校验和验证通过", archivePath)

	missing := 0
	for _, ref := range m.ImageRefs() {
		if !rt.Exists(ref) {
			log_utils.Error.Println("镜像缺失:", ref)
			missing++
		}
	}
	if missing > 0 {
		return missing, fmt.Errorf("校验失败: %d个镜像未导入本地镜像库", missing)
	}
	log_utils.Info.Println("捆绑包校验通过，全部镜像已就绪", dir)
	return 0, nil
}
