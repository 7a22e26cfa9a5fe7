// Пакет placement — детерминированное размещение артефактов на диске.
// По идентификатору и роли вычисляет относительный путь без обращения
// к хранилищу и без I/O. Источник истины о существовании и статусе
// файла — Record Store, а не наличие пути на диске.
package placement

import (
	"fmt"
	"path"

	"github.com/bigkaa/svgconv/internal/domain/identity"
)

// Role — роль артефакта.
type Role string

const (
	// RoleSource — исходный SVG
	RoleSource Role = "source"
	// RoleDerived — производный PDF
	RoleDerived Role = "derived"
)

// Каталоги артефактов относительно каталога данных.
const (
	SourceDir  = "uploads"
	DerivedDir = "converted"
	MergedDir  = "merged"
)

// Dirs — все каталоги, которые обслуживает сервис.
var Dirs = []string{SourceDir, DerivedDir, MergedDir}

// PathFor возвращает относительный путь артефакта:
// {dir}/{order_number}_{line_number}_{stem}.{ext}
//
// Разные идентификаторы никогда не дают одинаковый путь: пара
// (order, line) входит в имя, а разделитель "_" не встречается в числах.
func PathFor(id identity.Identity, role Role) string {
	dir, ext := layout(role)
	return path.Join(dir, fmt.Sprintf("%d_%d_%s.%s", id.OrderNumber, id.LineNumber, id.Stem, ext))
}

// MergedPath возвращает путь объединённого PDF заказа.
// token делает имя уникальным для каждой версии.
func MergedPath(orderNumber int, token string) string {
	return path.Join(MergedDir, fmt.Sprintf("merged_%d_%s.pdf", orderNumber, token))
}

// layout возвращает каталог и расширение для роли.
func layout(role Role) (dir, ext string) {
	switch role {
	case RoleDerived:
		return DerivedDir, "pdf"
	default:
		return SourceDir, "svg"
	}
}
