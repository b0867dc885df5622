package notification

import "time"

// ChannelSelectionService выбирает каналы доставки по настройкам получателя,
// приоритету и явному запросу. Сервис не хранит состояния.
type ChannelSelectionService struct{}

// NewChannelSelectionService создаёт сервис выбора каналов.
func NewChannelSelectionService() *ChannelSelectionService {
	return &ChannelSelectionService{}
}

// SelectionRequest - входные данные выбора каналов.
type SelectionRequest struct {
	Preference *Preference
	Type       NotificationType
	Priority   Priority
	Requested  []Channel
	Now        time.Time
	Recent     DeliveryCounts
}

var (
	highPriorityChannels    = []Channel{ChannelInApp, ChannelSSE, ChannelSystem}
	defaultPriorityChannels = []Channel{ChannelInApp, ChannelSSE}
)

// SelectChannels возвращает каналы для доставки. Пустой результат означает,
// что доставить уведомление некуда, и создавать его не следует.
//
// Порядок: разрешённые каналы с учётом окна тишины; если запрошены конкретные
// каналы - их пересечение с разрешёнными (при пустом пересечении - все разрешённые);
// иначе набор по приоритету, с тем же правилом отката.
func (s *ChannelSelectionService) SelectChannels(req SelectionRequest) []Channel {
	if req.Preference == nil {
		return nil
	}
	allowed := req.Preference.AllowedChannels(req.Type, req.Now, req.Recent)
	if len(allowed) == 0 {
		return nil
	}

	if len(req.Requested) > 0 {
		return intersectOrAll(allowed, req.Requested)
	}

	switch req.Priority {
	case PriorityUrgent:
		return allowed
	case PriorityHigh:
		return intersectOrAll(allowed, highPriorityChannels)
	default:
		return intersectOrAll(allowed, defaultPriorityChannels)
	}
}

// intersectOrAll возвращает allowed ∩ preferred в порядке allowed,
// либо весь allowed, если пересечение пусто.
func intersectOrAll(allowed, preferred []Channel) []Channel {
	want := make(map[Channel]struct{}, len(preferred))
	for _, ch := range preferred {
		want[ch] = struct{}{}
	}
	out := make([]Channel, 0, len(allowed))
	for _, ch := range allowed {
		if _, ok := want[ch]; ok {
			out = append(out, ch)
		}
	}
	if len(out) == 0 {
		return append([]Channel(nil), allowed...)
	}
	return out
}
