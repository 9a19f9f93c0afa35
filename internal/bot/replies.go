package bot

import (
	"fmt"
	"strings"

	"github.com/avtomat-kz/avtomat-api/internal/models"
)

const (
	textWelcome        = "👋 Добро пожаловать в AvtoMat!\n\nВыберите подходящий вариант:"
	textChooseCity     = "🏙 Выберите город:"
	textChooseCategory = "🚗 Выберите категорию прав:"
	textChooseFormat   = "📚 Выберите формат обучения:"
	textChooseAutoType = "🚗 Выберите тип автомобиля:"
	textChooseOption   = "📜 Выберите опцию:"
	textEnterTime      = "📅 Введите желаемое время для урока (например: 2024-01-15 14:00):\nИли отправьте 'любое' для свободного времени."
	textEnterName      = "📝 Введите ваше имя:"
	textEnterPhone     = "📱 Отправьте ваш номер телефона:"

	textBadName  = "❌ Имя слишком короткое. Введите корректное имя:"
	textBadPhone = "❌ Неверный формат телефона. Используйте формат: +7XXXXXXXXXX\nИли отправьте контакт через кнопку."
	textBadTime  = "❌ Неверный формат времени. Используйте: YYYY-MM-DD HH:MM\nИли отправьте 'любое'."
	textUseKeys  = "❌ Пожалуйста, выберите вариант с помощью кнопок."
	textStale    = "⚠️ Эта кнопка устарела. Продолжите с текущего шага."
	textUnknown  = "⚠️ Неизвестная команда."
	textLost     = "⚠️ Данные не сохранены. Пожалуйста, начните заново: /start\n\nЭто может произойти, если вы нажали на старую кнопку."
	textNoCity   = "❌ Этот город недоступен. Выберите другой:"
	textGone     = "❌ Этот вариант больше недоступен. Выберите другой:"
	textHint     = "Нажмите /start, чтобы начать."
	textTests    = "⏳ Функция 'Только тесты' находится в разработке.\nМы скоро добавим эту возможность!"
	textFailed   = "❌ Не удалось создать заявку: выбранный вариант больше недоступен.\nОтправьте номер ещё раз или начните заново: /start"
	textInternal = "⚠️ Что-то пошло не так. Попробуйте ещё раз или начните заново: /start"

	textDoneSchool     = "✅ Спасибо! Ваша заявка отправлена.\nАвтошкола свяжется с вами в ближайшее время."
	textDoneInstructor = "✅ Спасибо! Ваша заявка отправлена.\nИнструктор свяжется с вами в ближайшее время."

	labelBack     = "🔙 Назад"
	labelMiniApp  = "🚀 Открыть приложение"
	labelMainMenu = "🏠 Главное меню"
	navBack       = "back"
)

// InternalErrorText is shown when handling an action failed unexpectedly.
const InternalErrorText = textInternal

func startKeyboard(miniAppURL string) [][]models.Button {
	rows := [][]models.Button{
		{{Label: "❗ Нет водительских прав — хочу стать водителем", Data: selection(SelectFlow, FlowSchool.String())}},
		{{Label: "✅ Есть водительские права — хочу освежить знания", Data: selection(SelectFlow, FlowInstructor.String())}},
		{{Label: "📜 Есть сертификат, но не сдал экзамен", Data: selection(SelectFlow, FlowCertificate.String())}},
	}
	if miniAppURL != "" {
		rows = append(rows, []models.Button{{Label: labelMiniApp, URL: miniAppURL}})
	}
	return rows
}

func certificateKeyboard() [][]models.Button {
	return [][]models.Button{
		{{Label: "Только практика", Data: selection(SelectCertificate, "practice")}},
		{{Label: "Полный курс заново", Data: selection(SelectCertificate, "full")}},
		{{Label: "Только тесты", Data: selection(SelectCertificate, "tests")}},
	}
}

func cityLabel(c models.City) string {
	if c.NameRU != "" {
		return c.NameRU
	}
	return c.Name
}

func citiesKeyboard(cities []models.City) [][]models.Button {
	rows := make([][]models.Button, 0, (len(cities)+1)/2+1)
	for i := 0; i < len(cities); i += 2 {
		row := []models.Button{{Label: cityLabel(cities[i]), Data: selection(SelectCity, cities[i].Name)}}
		if i+1 < len(cities) {
			row = append(row, models.Button{Label: cityLabel(cities[i+1]), Data: selection(SelectCity, cities[i+1].Name)})
		}
		rows = append(rows, row)
	}
	return append(rows, backRow())
}

func categoriesKeyboard() [][]models.Button {
	var rows [][]models.Button
	for i := 0; i < len(models.Categories); i += 3 {
		var row []models.Button
		for j := i; j < i+3 && j < len(models.Categories); j++ {
			row = append(row, models.Button{Label: models.Categories[j], Data: selection(SelectCategory, models.Categories[j])})
		}
		rows = append(rows, row)
	}
	return rows
}

func formatsKeyboard() [][]models.Button {
	rows := make([][]models.Button, 0, len(models.Formats))
	for _, f := range models.Formats {
		rows = append(rows, []models.Button{{Label: f.Label(), Data: selection(SelectFormat, string(f))}})
	}
	return rows
}

func autoTypesKeyboard() [][]models.Button {
	rows := make([][]models.Button, 0, len(models.AutoTypes))
	for _, a := range models.AutoTypes {
		rows = append(rows, []models.Button{{Label: a.Label(), Data: selection(SelectAutoType, string(a))}})
	}
	return rows
}

func backRow() []models.Button {
	return []models.Button{{Label: labelBack, Data: selection(SelectNav, navBack)}}
}

func rating(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}

func schoolList(schools []models.School) (string, [][]models.Button) {
	var b strings.Builder
	b.WriteString("🏫 Доступные автошколы:\n\n")
	rows := make([][]models.Button, 0, len(schools)+1)
	for _, s := range schools {
		fmt.Fprintf(&b, "• %s\n  ⭐ Рейтинг: %s\n  📍 %s\n  💰 Цена: уточняйте\n\n", s.Name, rating(s.Rating), s.Address)
		rows = append(rows, []models.Button{{
			Label: fmt.Sprintf("%s ⭐%s", s.Name, rating(s.Rating)),
			Data:  selection(SelectSchool, fmt.Sprint(s.ID)),
		}})
	}
	b.WriteString("Выберите автошколу:")
	return b.String(), append(rows, backRow())
}

func instructorList(instructors []models.Instructor) (string, [][]models.Button) {
	var b strings.Builder
	b.WriteString("👨‍🏫 Доступные инструкторы:\n\n")
	rows := make([][]models.Button, 0, len(instructors)+1)
	for _, i := range instructors {
		fmt.Fprintf(&b, "• %s\n  🚗 %s\n  ⭐ Рейтинг: %s\n  📞 %s\n\n", i.Name, i.AutoType.Label(), rating(i.Rating), i.Phone)
		rows = append(rows, []models.Button{{
			Label: fmt.Sprintf("%s (%s) ⭐%s", i.Name, i.AutoType.Label(), rating(i.Rating)),
			Data:  selection(SelectInstructor, fmt.Sprint(i.ID)),
		}})
	}
	b.WriteString("Выберите инструктора:")
	return b.String(), append(rows, backRow())
}

func noSchoolsText(city string) string {
	return fmt.Sprintf("😔 В городе %s пока нет доступных автошкол.\nПопробуйте выбрать другой город.", city)
}

func noInstructorsText(city string, auto models.AutoType) string {
	return fmt.Sprintf("😔 В городе %s пока нет доступных инструкторов (%s).\nПопробуйте выбрать другой город или тип автомобиля.", city, auto.Label())
}

func isMenuCommand(text string) bool {
	text = strings.TrimSpace(text)
	return text == "/start" || strings.HasPrefix(text, "/start ") || text == labelMainMenu
}
