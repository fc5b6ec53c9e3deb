package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"airgap-bundler/checksum"
	"airgap-bundler/pull"
)

//
// @Author yfy2001
// @Date 2026/2/4 15 50
//

// writeAudit 对捆绑包做安全基线检查，结果写入security-audit.txt
func writeAudit(dir string, m *ManifestV1, secretsEncrypted bool) error {
	var b strings.Builder
	b.WriteString("捆绑包安全审计报告\n")
	b.WriteString("====================\n\n")
	fmt.Fprintf(&b, "捆绑包: %s\n审计时间: %s\n\n", dir, m.Created)

	check := func(ok bool, okMsg, warnMsg string) {
		if ok {
			fmt.Fprintf(&b, "[通过] %s\n", okMsg)
		} else {
			fmt.Fprintf(&b, "[警告] %s\n", warnMsg)
		}
	}

	// 归档完整性
	archivePath := filepath.Join(dir, m.Archive)
	_, sidecarErr := os.Stat(archivePath + checksum.Suffix)
	check(sidecarErr == nil,
		"归档带有SHA-256校验和文件",
		"归档缺少校验和文件，目标主机无法验证完整性")

	// 镜像是否以不可变摘要固定
	unpinned := 0
	for _, img := range m.Images {
		ref, err := pull.Parse(img)
		if err != nil || !ref.Pinned() {
			unpinned++
		}
	}
	check(unpinned == 0,
		"全部镜像以不可变摘要固定",
		fmt.Sprintf("%d/%d个镜像仅以可变tag引用，建议改用digest固定", unpinned, len(m.Images)))

	// 密钥快照
	secretsPath := filepath.Join(dir, secretsName)
	if info, err := os.Stat(secretsPath); err == nil {
		check(secretsEncrypted, "versions快照已加密存储", "versions快照未加密")
		check(info.Mode().Perm() == 0600,
			"versions快照权限为0600",
			fmt.Sprintf("versions快照权限过宽: %v", info.Mode().Perm()))
	} else {
		b.WriteString("[信息] 捆绑包不含versions快照\n")
	}

	// 成员文件权限
	loose := 0
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Mode().Perm()&0002 != 0 {
			loose++
			fmt.Fprintf(&b, "[警告] %s 对任意用户可写\n", entry.Name())
		}
	}
	check(loose == 0, "成员文件权限正常", fmt.Sprintf("%d个成员文件权限过宽", loose))

	return checksum.AtomicWrite(filepath.Join(dir, auditName), []byte(b.String()), 0644)
}
