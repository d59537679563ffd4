// Package engine описывает границу с внешним движком передачи документов
// (конечным автоматом T.30) и адаптер, который настраивает его для сессии.
//
// Сам протокол (обучение модемов, ECM, выбор сжатия) находится за интерфейсом
// Engine и здесь не моделируется.
package engine

// MaxBlockSize максимальное количество отсчетов в одном аудио блоке
const MaxBlockSize = 240

// MaxIdentLen максимальная длина идентификатора станции в байтах
const MaxIdentLen = 20

// Engine набор возможностей движка на одну сессию.
// Вызовы выполняются из одной горутины сессии.
type Engine interface {
	// Feed передает входящее аудио движку. true - движок просит остановить сессию.
	Feed(samples []int16) (stop bool)
	// Drain забирает до max отсчетов исходящего аудио. Пустой результат допустим.
	Drain(max int) []int16
	// Terminate освобождает ресурсы движка
	Terminate() error
}

// Factory создает движок с заданной конфигурацией
type Factory interface {
	New(cfg Config) (Engine, error)
}

// FactoryFunc адаптер функции к Factory
type FactoryFunc func(cfg Config) (Engine, error)

// New вызывает f(cfg)
func (f FactoryFunc) New(cfg Config) (Engine, error) { return f(cfg) }

// Role роль стороны в рукопожатии
type Role int

const (
	// RoleAnswerer отвечающая сторона (по умолчанию)
	RoleAnswerer Role = iota
	// RoleOriginator вызывающая сторона
	RoleOriginator
)

func (r Role) String() string {
	if r == RoleOriginator {
		return "originator"
	}
	return "answerer"
}

// Direction направление передачи документа
type Direction int

const (
	// DirectionSend документ читается из файла и передается
	DirectionSend Direction = iota
	// DirectionReceive документ принимается и записывается в файл
	DirectionReceive
)

func (d Direction) String() string {
	if d == DirectionReceive {
		return "receive"
	}
	return "send"
}

// Compression битовая маска поддерживаемых схем сжатия
type Compression uint32

const (
	CompressionT4_1D Compression = 1 << iota
	CompressionT4_2D
	CompressionT6
)

// DefaultCompressions набор схем, включаемый для каждой сессии
const DefaultCompressions = CompressionT4_1D | CompressionT4_2D | CompressionT6

// Config параметры создания движка
type Config struct {
	Role      Role
	Direction Direction
	Verbose   bool

	LocalIdent string // Идентификатор локальной станции (пусто - не задан)
	HeaderInfo string // Шаблон строки заголовка страницы (пусто - не задан)

	// FilePath файл-источник для передачи или файл-приемник для приема
	FilePath string

	ECM          bool
	Compressions Compression

	// OnComplete вызывается движком не более одного раза при завершении (фаза E)
	OnComplete func(Completion)

	// Log приемник диагностических сообщений движка
	Log LogFunc
}
